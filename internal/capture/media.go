package capture

import (
	"context"
	"time"
)

// Constraints selects which kinds of tracks a stream should carry.
type Constraints struct {
	Video bool
	Audio bool
}

var (
	// sessionConstraints is what a recording session asks for.
	sessionConstraints = Constraints{Video: true}
	// previewConstraints is what the passive self-view asks for at mount.
	previewConstraints = Constraints{Video: true, Audio: true}
)

// Track is a single camera or microphone track of a Stream.
type Track interface {
	Kind() string
	// Stop releases the underlying device. Calling it more than once is safe.
	Stop()
}

// Stream is a live capture stream.
type Stream interface {
	ID() string
	Tracks() []Track
}

// MediaDevices grants access to the camera and microphone.
type MediaDevices interface {
	// GetUserMedia may block on a permission prompt or hardware handshake.
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
}

// Recorder captures a stream in chunks.
type Recorder interface {
	// Start begins capture. Chunks arrive on the returned channel in capture
	// order; the channel is closed after Stop has delivered the last chunk.
	Start() (<-chan []byte, error)
	Stop() error
}

// RecorderFactory builds a Recorder with default encoder settings.
type RecorderFactory interface {
	NewRecorder(s Stream) (Recorder, error)
}

// Surface is a live preview sink. A nil stream detaches it.
type Surface interface {
	Attach(s Stream)
}

// Ticker delivers countdown ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock creates tickers. It exists so tests can drive the countdown.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// SystemClock is the wall-clock Clock.
type SystemClock struct{}

// NewTicker implements Clock.NewTicker.
func (SystemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// releaseStream stops every track of s. A nil stream is ignored.
func releaseStream(s Stream) {
	if s == nil {
		return
	}
	for _, tr := range s.Tracks() {
		tr.Stop()
	}
}

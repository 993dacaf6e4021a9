// Package device provides an in-process camera, microphone and chunked
// recorder that satisfy the capture package's host interfaces. The server
// uses it where a browser would supply real hardware.
package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"clip-capture/internal/capture"

	"github.com/google/uuid"
)

const (
	DefaultChunkInterval = 250 * time.Millisecond
	DefaultChunkBytes    = 64 * 1024
)

var (
	// ErrPermissionDenied is returned by GetUserMedia when Deny is set.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNoTracks is returned when constraints request neither audio nor video.
	ErrNoTracks = errors.New("constraints request no tracks")
	// ErrStreamEnded is returned when recording a stream whose tracks are stopped.
	ErrStreamEnded = errors.New("stream has ended")
)

// Devices is a synthetic MediaDevices and RecorderFactory.
type Devices struct {
	// Deny makes every GetUserMedia call fail with ErrPermissionDenied.
	Deny bool
	// ChunkInterval is the recorder timeslice.
	ChunkInterval time.Duration
	// ChunkBytes is the size of each emitted chunk.
	ChunkBytes int

	mu      sync.Mutex
	streams []*Stream
}

// GetUserMedia implements capture.MediaDevices.
func (d *Devices) GetUserMedia(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Deny {
		return nil, ErrPermissionDenied
	}
	if !c.Video && !c.Audio {
		return nil, ErrNoTracks
	}

	s := &Stream{id: uuid.NewString()}
	if c.Video {
		s.tracks = append(s.tracks, &Track{kind: "video"})
	}
	if c.Audio {
		s.tracks = append(s.tracks, &Track{kind: "audio"})
	}

	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

// OpenStreams returns how many streams handed out still have a live track.
func (d *Devices) OpenStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		if s.Live() {
			n++
		}
	}
	return n
}

// NewRecorder implements capture.RecorderFactory.
func (d *Devices) NewRecorder(s capture.Stream) (capture.Recorder, error) {
	interval := d.ChunkInterval
	if interval <= 0 {
		interval = DefaultChunkInterval
	}
	size := d.ChunkBytes
	if size <= 0 {
		size = DefaultChunkBytes
	}
	return &Recorder{stream: s, interval: interval, size: size, stop: make(chan struct{})}, nil
}

// Stream is a synthetic capture stream.
type Stream struct {
	id     string
	tracks []*Track
}

// ID implements capture.Stream.
func (s *Stream) ID() string { return s.id }

// Tracks implements capture.Stream.
func (s *Stream) Tracks() []capture.Track {
	out := make([]capture.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

// Live reports whether any track is still running.
func (s *Stream) Live() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return true
		}
	}
	return false
}

// Track is a synthetic camera or microphone track.
type Track struct {
	kind    string
	stopped atomic.Bool
}

// Kind implements capture.Track.
func (t *Track) Kind() string { return t.kind }

// Stop implements capture.Track.
func (t *Track) Stop() { t.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (t *Track) Stopped() bool { return t.stopped.Load() }

// Recorder emits a chunk every interval and a final chunk on Stop.
type Recorder struct {
	stream   capture.Stream
	interval time.Duration
	size     int

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

// Start implements capture.Recorder. It may only be called once.
func (r *Recorder) Start() (<-chan []byte, error) {
	live := false
	for _, t := range r.stream.Tracks() {
		if st, ok := t.(*Track); !ok || !st.Stopped() {
			live = true
		}
	}
	if !live {
		return nil, ErrStreamEnded
	}

	var out chan []byte
	started := false
	r.startOnce.Do(func() {
		out = make(chan []byte)
		started = true
		go r.run(out)
	})
	if !started {
		return nil, errors.New("recorder already started")
	}
	return out, nil
}

// Stop implements capture.Recorder. It returns without waiting for the final
// chunk to be consumed.
func (r *Recorder) Stop() error {
	r.stopOnce.Do(func() { close(r.stop) })
	return nil
}

func (r *Recorder) run(out chan<- []byte) {
	defer close(out)
	t := time.NewTicker(r.interval)
	defer t.Stop()

	var seq byte
	for {
		select {
		case <-r.stop:
			out <- r.chunk(seq)
			return
		case <-t.C:
			select {
			case out <- r.chunk(seq):
				seq++
			case <-r.stop:
				out <- r.chunk(seq)
				return
			}
		}
	}
}

// chunk returns a payload filled with seq so tests can check ordering.
func (r *Recorder) chunk(seq byte) []byte {
	b := make([]byte, r.size)
	for i := range b {
		b[i] = seq
	}
	return b
}

package capture

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// RecordedType is the MIME type of every clip finalized from a recording.
const RecordedType = "video/webm"

// Phase is the recording lifecycle state of a session.
type Phase int

const (
	// PhaseIdle is the resting state: no stream, no countdown.
	PhaseIdle Phase = iota
	// PhaseCountingDown holds the camera stream while the countdown runs.
	PhaseCountingDown
	// PhaseRecording buffers chunks from the recorder until stopped.
	PhaseRecording
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCountingDown:
		return "counting_down"
	case PhaseRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name in JSON responses.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name produced by MarshalText.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*p = PhaseIdle
	case "counting_down":
		*p = PhaseCountingDown
	case "recording":
		*p = PhaseRecording
	default:
		return fmt.Errorf("unknown phase %q", b)
	}
	return nil
}

// Source records how a clip entered the gallery.
type Source string

const (
	SourceRecorded Source = "recorded"
	SourceUploaded Source = "uploaded"
)

// Clip is an immutable video artifact. The payload is unexported so it
// cannot be changed after the clip is built.
type Clip struct {
	ID        uuid.UUID
	Name      string // file name for uploads, empty for recordings
	Size      int64
	Type      string
	Source    Source
	CreatedAt time.Time

	data []byte
}

func newClip(name, mimeType string, src Source, data []byte) Clip {
	return Clip{
		ID:        uuid.New(),
		Name:      name,
		Size:      int64(len(data)),
		Type:      mimeType,
		Source:    src,
		CreatedAt: time.Now().UTC(),
		data:      data,
	}
}

// Open returns a reader over the clip payload.
func (c Clip) Open() io.ReadSeeker {
	return bytes.NewReader(c.data)
}

// Bytes returns a copy of the clip payload.
func (c Clip) Bytes() []byte {
	return bytes.Clone(c.data)
}

// PlaybackPath is the session-scoped handle a player can use as a source.
// It is derived from the ID and never stored.
func (c Clip) PlaybackPath() string {
	return "/clips/" + c.ID.String() + "/media"
}

// Upload is one user-selected file handed to UploadClips.
type Upload struct {
	Name string
	Type string
	Data []byte
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Phase         Phase `json:"phase"`
	Countdown     int   `json:"countdown"`
	StreamActive  bool  `json:"stream_active"`
	PendingChunks int   `json:"pending_chunks"`
	PendingBytes  int64 `json:"pending_bytes"`
}

package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clip-capture/internal/platform/metrics"

	"github.com/dustin/go-humanize"
)

const (
	// DefaultCountdown is the number of ticks between StartSession and recording.
	DefaultCountdown = 5
	// DefaultTickPeriod is the countdown tick interval.
	DefaultTickPeriod = time.Second
)

var (
	// ErrAcquire wraps camera permission and hardware failures.
	ErrAcquire = errors.New("camera acquisition failed")

	// ErrClosed is returned by StartSession after Close.
	ErrClosed = errors.New("controller closed")
)

// Options configures a Controller. Devices and Recorders are required.
type Options struct {
	Devices   MediaDevices
	Recorders RecorderFactory
	Clock     Clock    // defaults to SystemClock
	Preview   Surface  // optional live preview sink
	Gallery   *Gallery // defaults to NewGallery()
	Log       *slog.Logger
	Metrics   *metrics.Metrics // optional

	// CountdownStart and TickPeriod fall back to DefaultCountdown and
	// DefaultTickPeriod when <= 0.
	CountdownStart int
	TickPeriod     time.Duration
}

// Controller drives the Idle -> CountingDown -> Recording -> Idle cycle and
// produces clips. All methods are safe for concurrent use.
//
// Every asynchronous source (countdown ticker, chunk collector) is bound to
// the session generation it was started for; events carrying a stale
// generation are dropped.
type Controller struct {
	devices   MediaDevices
	recorders RecorderFactory
	clock     Clock
	surface   Surface
	gallery   *Gallery
	log       *slog.Logger
	metrics   *metrics.Metrics

	countdownStart int
	tickPeriod     time.Duration

	mu           sync.Mutex
	gen          uint64
	phase        Phase
	countdown    int
	stream       Stream
	preview      Stream
	pending      [][]byte
	pendingBytes int64
	recorder     Recorder
	flushed      chan struct{}
	cancelTick   context.CancelFunc
	stopping     bool
	closed       bool

	// abortAcquire is set by a stop that lands while the camera request is
	// still pending; cancelAcquire cancels that request's context.
	acquiring     bool
	abortAcquire  bool
	cancelAcquire context.CancelFunc
}

// NewController returns an idle Controller.
func NewController(opts Options) *Controller {
	c := &Controller{
		devices:        opts.Devices,
		recorders:      opts.Recorders,
		clock:          opts.Clock,
		surface:        opts.Preview,
		gallery:        opts.Gallery,
		log:            opts.Log,
		metrics:        opts.Metrics,
		countdownStart: opts.CountdownStart,
		tickPeriod:     opts.TickPeriod,
	}
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	if c.gallery == nil {
		c.gallery = NewGallery()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.countdownStart <= 0 {
		c.countdownStart = DefaultCountdown
	}
	if c.tickPeriod <= 0 {
		c.tickPeriod = DefaultTickPeriod
	}
	return c
}

// Gallery returns the clip gallery the controller appends to.
func (c *Controller) Gallery() *Gallery {
	return c.gallery
}

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Phase:         c.phase,
		Countdown:     c.countdown,
		StreamActive:  c.stream != nil,
		PendingChunks: len(c.pending),
		PendingBytes:  c.pendingBytes,
	}
}

// Mount acquires the passive audio+video self-view. It is best effort:
// failures are logged and swallowed since StartSession acquires its own stream.
func (c *Controller) Mount(ctx context.Context) {
	stream, err := c.devices.GetUserMedia(ctx, previewConstraints)
	if err != nil {
		c.log.Debug("preview unavailable", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.phase != PhaseIdle || c.acquiring {
		releaseStream(stream)
		return
	}
	releaseStream(c.preview)
	c.preview = stream
	c.attach(stream)
	c.log.Debug("preview attached", slog.String("stream_id", stream.ID()))
}

// StartSession requests the camera and, on success, enters the countdown.
// Calls made while a session is active or an acquisition is pending are
// ignored and return nil. On failure the controller stays idle and the
// returned error wraps ErrAcquire.
func (c *Controller) StartSession(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != PhaseIdle || c.acquiring {
		phase := c.phase
		c.mu.Unlock()
		c.log.Debug("start ignored, session already active", slog.String("phase", phase.String()))
		return nil
	}
	acquireCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.acquiring = true
	c.abortAcquire = false
	c.cancelAcquire = cancel
	// Only one capture stream may be open: drop the self-view before asking
	// for the session stream.
	c.dropPreviewLocked()
	c.mu.Unlock()

	stream, err := c.devices.GetUserMedia(acquireCtx, sessionConstraints)

	c.mu.Lock()
	defer c.mu.Unlock()
	aborted := c.abortAcquire
	c.acquiring = false
	c.abortAcquire = false
	c.cancelAcquire = nil

	if aborted || c.closed {
		if stream != nil {
			releaseStream(stream)
		}
		if c.closed {
			return ErrClosed
		}
		c.log.Info("session stopped before the camera was granted")
		return nil
	}
	if err != nil {
		c.log.Warn("camera acquisition failed", slog.String("error", err.Error()))
		if c.metrics != nil {
			c.metrics.IncAcquireFailures()
		}
		return fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	releaseStream(c.stream)
	c.gen++
	c.stream = stream
	c.phase = PhaseCountingDown
	c.countdown = c.countdownStart
	c.attach(stream)

	tickCtx, tickCancel := context.WithCancel(context.Background())
	c.cancelTick = tickCancel
	go c.runCountdown(tickCtx, c.gen, c.clock.NewTicker(c.tickPeriod))

	c.log.Info("session started",
		slog.String("stream_id", stream.ID()),
		slog.Int("countdown", c.countdown))
	if c.metrics != nil {
		c.metrics.IncSessionsStarted()
	}
	return nil
}

// StopSession ends the current session. From Recording it waits for the
// recorder's final flush, appends one video/webm clip to the gallery and
// returns it. From CountingDown it releases the stream without producing a
// clip. While the camera request is still pending it aborts that request so
// the session never starts. From Idle, or while another stop is in flight,
// it does nothing. Either way the camera is released and the controller
// returns to Idle.
func (c *Controller) StopSession(ctx context.Context) (*Clip, error) {
	c.mu.Lock()
	if c.acquiring {
		c.abortAcquireLocked()
		c.mu.Unlock()
		c.log.Info("session stopped while waiting for the camera")
		return nil, nil
	}
	if c.phase == PhaseIdle || c.stopping {
		c.mu.Unlock()
		c.log.Debug("stop ignored, no active recording")
		return nil, nil
	}
	if c.phase == PhaseCountingDown {
		remaining := c.countdown
		c.resetLocked()
		c.mu.Unlock()
		c.log.Info("session stopped during countdown", slog.Int("remaining", remaining))
		if c.metrics != nil {
			c.metrics.IncSessionsStopped(PhaseCountingDown.String())
		}
		return nil, nil
	}

	c.stopping = true
	rec, flushed, gen := c.recorder, c.flushed, c.gen
	c.mu.Unlock()

	// The recorder keeps delivering until its channel closes; phase stays
	// Recording meanwhile so the final chunk is still buffered.
	flushErr := rec.Stop()
	if flushErr == nil {
		select {
		case <-flushed:
		case <-ctx.Done():
			flushErr = ctx.Err()
		}
	}
	if flushErr != nil {
		c.log.Warn("recorder did not flush cleanly", slog.String("error", flushErr.Error()))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// Closed while we were waiting for the flush.
		return nil, nil
	}
	clip := newClip("", RecordedType, SourceRecorded, bytes.Join(c.pending, nil))
	chunks := len(c.pending)
	c.gallery.Append(clip)
	c.resetLocked()

	c.log.Info("recording finalized",
		slog.String("clip_id", clip.ID.String()),
		slog.Int("chunks", chunks),
		slog.String("size", humanize.IBytes(uint64(clip.Size))))
	if c.metrics != nil {
		c.metrics.IncSessionsStopped(PhaseRecording.String())
		c.metrics.ObserveClip(string(clip.Source), clip.Size)
	}
	return &clip, nil
}

// UploadClips appends one clip per file in input order and returns them.
// The phase is untouched. MIME types are taken as given; filtering is the
// caller's job. UploadClips takes ownership of each Data slice.
func (c *Controller) UploadClips(files []Upload) []Clip {
	if len(files) == 0 {
		return nil
	}
	clips := make([]Clip, 0, len(files))
	for _, f := range files {
		clips = append(clips, newClip(f.Name, f.Type, SourceUploaded, f.Data))
	}
	c.gallery.Append(clips...)

	for _, clip := range clips {
		c.log.Info("clip uploaded",
			slog.String("clip_id", clip.ID.String()),
			slog.String("name", clip.Name),
			slog.String("type", clip.Type),
			slog.String("size", humanize.IBytes(uint64(clip.Size))))
		if c.metrics != nil {
			c.metrics.ObserveClip(string(clip.Source), clip.Size)
		}
	}
	return clips
}

// Close tears the controller down: the countdown is cancelled, a running
// recorder is halted with its buffered chunks discarded, and every stream is
// released. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.abortAcquireLocked()
	rec := c.recorder
	if c.phase != PhaseIdle {
		c.log.Info("discarding active session on close", slog.String("phase", c.phase.String()))
	}
	c.resetLocked()
	c.dropPreviewLocked()
	c.mu.Unlock()

	if rec != nil {
		if err := rec.Stop(); err != nil {
			c.log.Debug("recorder stop on close", slog.String("error", err.Error()))
		}
	}
}

func (c *Controller) runCountdown(ctx context.Context, gen uint64, t Ticker) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if !c.tick(gen) {
				return
			}
		}
	}
}

// tick applies one countdown step and reports whether more ticks are wanted.
func (c *Controller) tick(gen uint64) bool {
	c.mu.Lock()
	if gen != c.gen || c.phase != PhaseCountingDown || c.countdown <= 0 {
		c.mu.Unlock()
		return false
	}
	c.countdown--
	c.log.Debug("countdown", slog.Int("remaining", c.countdown))
	if c.countdown > 0 {
		c.mu.Unlock()
		return true
	}
	c.cancelTick()
	c.cancelTick = nil
	stream := c.stream
	c.mu.Unlock()

	c.beginRecording(gen, stream)
	return false
}

// beginRecording moves a counted-down session into Recording. The recorder
// is built and started without holding c.mu, since its handshake may block;
// the session is still CountingDown (at zero) meanwhile and can be stopped.
func (c *Controller) beginRecording(gen uint64, stream Stream) {
	rec, err := c.recorders.NewRecorder(stream)
	var chunks <-chan []byte
	if err == nil {
		chunks, err = rec.Start()
	}

	c.mu.Lock()
	if gen != c.gen || c.phase != PhaseCountingDown {
		c.mu.Unlock()
		if err == nil {
			// Stopped or closed during the handshake: drain and discard.
			go c.collect(gen, chunks, make(chan struct{}))
			_ = rec.Stop()
		}
		return
	}
	defer c.mu.Unlock()

	if err != nil {
		c.log.Error("recorder failed to start", slog.String("error", err.Error()))
		c.resetLocked()
		if c.metrics != nil {
			c.metrics.IncSessionsStopped(PhaseCountingDown.String())
		}
		return
	}

	c.phase = PhaseRecording
	c.pending = nil
	c.pendingBytes = 0
	c.recorder = rec
	c.flushed = make(chan struct{})
	go c.collect(gen, chunks, c.flushed)

	c.log.Info("recording started", slog.String("stream_id", stream.ID()))
}

func (c *Controller) collect(gen uint64, chunks <-chan []byte, flushed chan struct{}) {
	defer close(flushed)
	for chunk := range chunks {
		c.appendChunk(gen, chunk)
	}
}

func (c *Controller) appendChunk(gen uint64, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.phase != PhaseRecording {
		return
	}
	c.pending = append(c.pending, chunk)
	c.pendingBytes += int64(len(chunk))
}

// resetLocked returns the controller to Idle and releases the session stream.
// It bumps the generation so late ticks and chunks are ignored.
// Caller must hold c.mu.
func (c *Controller) resetLocked() {
	if c.cancelTick != nil {
		c.cancelTick()
		c.cancelTick = nil
	}
	if c.stream != nil {
		releaseStream(c.stream)
		c.stream = nil
		c.attach(nil)
	}
	c.gen++
	c.phase = PhaseIdle
	c.countdown = 0
	c.pending = nil
	c.pendingBytes = 0
	c.recorder = nil
	c.flushed = nil
	c.stopping = false
}

// abortAcquireLocked makes a pending camera request end without starting a
// session. Caller must hold c.mu.
func (c *Controller) abortAcquireLocked() {
	if !c.acquiring {
		return
	}
	c.abortAcquire = true
	if c.cancelAcquire != nil {
		c.cancelAcquire()
	}
}

// dropPreviewLocked releases and detaches the mount-time self-view.
// Caller must hold c.mu.
func (c *Controller) dropPreviewLocked() {
	if c.preview == nil {
		return
	}
	releaseStream(c.preview)
	c.preview = nil
	c.attach(nil)
}

func (c *Controller) attach(s Stream) {
	if c.surface != nil {
		c.surface.Attach(s)
	}
}

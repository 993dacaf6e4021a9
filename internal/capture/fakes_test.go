package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTrack struct {
	kind    string
	stopped atomic.Bool
}

func (t *fakeTrack) Kind() string { return t.kind }
func (t *fakeTrack) Stop()        { t.stopped.Store(true) }

type fakeStream struct {
	id     string
	tracks []*fakeTrack
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) released() bool {
	for _, t := range s.tracks {
		if !t.stopped.Load() {
			return false
		}
	}
	return true
}

type fakeDevices struct {
	mu      sync.Mutex
	err     error
	calls   []Constraints
	streams []*fakeStream

	// When gate is set, GetUserMedia signals entered and then holds the
	// request until gate is closed, ignoring ctx like a slow permission
	// prompt would.
	gate    chan struct{}
	entered chan struct{}
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, c Constraints) (Stream, error) {
	d.mu.Lock()
	gate, entered := d.gate, d.entered
	d.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{id: fmt.Sprintf("stream-%d", len(d.streams)+1)}
	if c.Video {
		s.tracks = append(s.tracks, &fakeTrack{kind: "video"})
	}
	if c.Audio {
		s.tracks = append(s.tracks, &fakeTrack{kind: "audio"})
	}
	d.streams = append(d.streams, s)
	return s, nil
}

// hold makes the next GetUserMedia calls block until the returned func is
// called.
func (d *fakeDevices) hold() (entered <-chan struct{}, release func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gate := make(chan struct{})
	d.gate = gate
	d.entered = make(chan struct{}, 1)
	return d.entered, func() {
		d.mu.Lock()
		d.gate = nil
		d.mu.Unlock()
		close(gate)
	}
}

func (d *fakeDevices) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDevices) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDevices) stream(i int) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[i]
}

func (d *fakeDevices) openStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.streams {
		if !s.released() {
			n++
		}
	}
	return n
}

// fakeRecorder hands chunks to the controller as the test emits them and
// flushes final on Stop. A non-nil startGate blocks Start until closed; a
// non-nil flushGate delays the final flush until closed.
type fakeRecorder struct {
	ch       chan []byte
	final    [][]byte
	stopOnce sync.Once
	stops    atomic.Int32

	startGate chan struct{}
	started   chan struct{}
	flushGate chan struct{}
}

func (r *fakeRecorder) Start() (<-chan []byte, error) {
	if r.startGate != nil {
		r.started <- struct{}{}
		<-r.startGate
	}
	return r.ch, nil
}

func (r *fakeRecorder) Stop() error {
	r.stops.Add(1)
	r.stopOnce.Do(func() {
		go func() {
			if r.flushGate != nil {
				<-r.flushGate
			}
			for _, f := range r.final {
				r.ch <- f
			}
			close(r.ch)
		}()
	})
	return nil
}

func (r *fakeRecorder) emit(b []byte) { r.ch <- b }

type failingRecorder struct{}

func (failingRecorder) Start() (<-chan []byte, error) { return nil, errors.New("encoder unavailable") }
func (failingRecorder) Stop() error                   { return nil }

type fakeRecorders struct {
	mu    sync.Mutex
	final [][]byte
	fail  bool
	recs  []*fakeRecorder

	// Copied into every recorder built after they are set.
	startGate chan struct{}
	started   chan struct{}
	flushGate chan struct{}
}

func (f *fakeRecorders) NewRecorder(s Stream) (Recorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return failingRecorder{}, nil
	}
	r := &fakeRecorder{
		ch:        make(chan []byte),
		final:     f.final,
		startGate: f.startGate,
		started:   f.started,
		flushGate: f.flushGate,
	}
	f.recs = append(f.recs, r)
	return r, nil
}

func (f *fakeRecorders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

func (f *fakeRecorders) latest() *fakeRecorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recs[len(f.recs)-1]
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type fakeClock struct {
	mu      sync.Mutex
	periods []time.Duration
	tickers []*fakeTicker
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.periods = append(c.periods, d)
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *fakeClock) latest() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickers[len(c.tickers)-1]
}

type fakeSurface struct {
	mu       sync.Mutex
	attached []Stream
}

func (s *fakeSurface) Attach(st Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = append(s.attached, st)
}

func (s *fakeSurface) current() Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.attached) == 0 {
		return nil
	}
	return s.attached[len(s.attached)-1]
}

type testEnv struct {
	ctrl      *Controller
	devices   *fakeDevices
	recorders *fakeRecorders
	clock     *fakeClock
	surface   *fakeSurface
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		devices:   &fakeDevices{},
		recorders: &fakeRecorders{},
		clock:     &fakeClock{},
		surface:   &fakeSurface{},
	}
	env.ctrl = NewController(Options{
		Devices:   env.devices,
		Recorders: env.recorders,
		Clock:     env.clock,
		Preview:   env.surface,
		Log:       slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	})
	t.Cleanup(env.ctrl.Close)
	return env
}

// tick delivers one countdown tick; it returns once the countdown goroutine
// has received it.
func (e *testEnv) tick(t *testing.T) {
	t.Helper()
	select {
	case e.clock.latest().ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("countdown goroutine did not accept tick")
	}
}

// runToRecording starts a session and ticks it through the countdown.
func (e *testEnv) runToRecording(t *testing.T) *fakeRecorder {
	t.Helper()
	if err := e.ctrl.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for i := 0; i < DefaultCountdown; i++ {
		e.tick(t)
	}
	eventually(t, func() bool { return e.ctrl.Snapshot().Phase == PhaseRecording }, "phase should reach recording")
	return e.recorders.latest()
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

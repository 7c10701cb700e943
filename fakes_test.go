package codescanner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCamera records every open and close so tests can assert that no
// device is left held.
type fakeCamera struct {
	// openErr returns the error for a facing; nil opens successfully.
	openErr func(Facing) error
	// gate, when set, blocks Open until closed. ignoreCtx makes the wait
	// deaf to cancellation, like a platform call that cannot be aborted.
	gate      chan struct{}
	ignoreCtx bool
	// attachGate blocks Attach until closed (or ctx done).
	attachGate chan struct{}
	attachErr  error

	opened atomic.Int32
	closed atomic.Int32

	mu      sync.Mutex
	facings []Facing
}

func (f *fakeCamera) Open(ctx context.Context, facing Facing) (CameraHandle, error) {
	f.mu.Lock()
	f.facings = append(f.facings, facing)
	f.mu.Unlock()

	if f.gate != nil {
		if f.ignoreCtx {
			<-f.gate
		} else {
			select {
			case <-f.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if f.openErr != nil {
		if err := f.openErr(facing); err != nil {
			return nil, err
		}
	}
	f.opened.Add(1)
	return &fakeHandle{cam: f}, nil
}

func (f *fakeCamera) held() int32 { return f.opened.Load() - f.closed.Load() }

func (f *fakeCamera) requested() []Facing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Facing(nil), f.facings...)
}

type fakeHandle struct {
	cam       *fakeCamera
	seq       atomic.Uint64
	closeOnce sync.Once
	isClosed  atomic.Bool
}

func (h *fakeHandle) Attach(ctx context.Context) error {
	if h.cam.attachGate != nil {
		select {
		case <-h.cam.attachGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return h.cam.attachErr
}

func (h *fakeHandle) CurrentFrame() (*Frame, bool) {
	if h.isClosed.Load() {
		return nil, false
	}
	seq := h.seq.Add(1)
	return &Frame{Seq: seq, Timestamp: time.Now(), Width: 1, Height: 1, Data: []byte{0, 0, 0}, TraceID: "trace"}, true
}

func (h *fakeHandle) Close() error {
	h.closeOnce.Do(func() {
		h.isClosed.Store(true)
		h.cam.closed.Add(1)
	})
	return nil
}

// fakeNative scripts the native backend.
type fakeNative struct {
	probeErr error
	newErr   error
	detect   func(*Frame) (string, bool, error)

	probes atomic.Int32
	built  atomic.Int32
	closed atomic.Int32
}

func (f *fakeNative) Probe() error {
	f.probes.Add(1)
	return f.probeErr
}

func (f *fakeNative) New() (FrameDetector, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	f.built.Add(1)
	return &fakeDetector{owner: f}, nil
}

type fakeDetector struct {
	owner *fakeNative
}

func (d *fakeDetector) DetectOnce(frame *Frame) (string, bool, error) {
	if d.owner.detect == nil {
		return "", false, nil
	}
	return d.owner.detect(frame)
}

func (d *fakeDetector) Close() error {
	d.owner.closed.Add(1)
	return nil
}

// fakeFallback builds fakeEngines and keeps the last one for the test to
// drive.
type fakeFallback struct {
	newErr   error
	startErr error
	cam      *fakeCamera

	mu     sync.Mutex
	engine *fakeEngine
}

func (f *fakeFallback) New() (FallbackEngine, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	e := &fakeEngine{owner: f, started: make(chan struct{})}
	f.mu.Lock()
	f.engine = e
	f.mu.Unlock()
	return e, nil
}

func (f *fakeFallback) last() *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engine
}

type fakeEngine struct {
	owner *fakeFallback

	mu          sync.Mutex
	cb          EngineCallbacks
	facing      Facing
	heldAtStart int32
	started     chan struct{}
	stops       atomic.Int32
}

func (e *fakeEngine) Start(ctx context.Context, facing Facing, cb EngineCallbacks) error {
	if e.owner.startErr != nil {
		return e.owner.startErr
	}
	e.mu.Lock()
	e.cb = cb
	e.facing = facing
	if e.owner.cam != nil {
		e.heldAtStart = e.owner.cam.held()
	}
	e.mu.Unlock()
	close(e.started)
	return nil
}

func (e *fakeEngine) Stop() error {
	e.stops.Add(1)
	return nil
}

func (e *fakeEngine) callbacks() EngineCallbacks {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cb
}

// --- helpers ---

func newTestController(t *testing.T, deps Dependencies, opts Options) *Controller {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.PollRate == 0 {
		opts.PollRate = 500
	}
	c, err := NewController(deps, opts)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

// nextOfKind returns the next event of kind, skipping benign misses.
func nextOfKind(t *testing.T, s *Session, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
			if ev.Kind != EventBenignMiss {
				t.Fatalf("got %s (reason %q) while waiting for %s", ev.Kind, ev.Reason, kind)
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

// drain reads events until the channel closes.
func drain(t *testing.T, s *Session) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timeout waiting for events to close")
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func closeSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

var errBoom = errors.New("boom")

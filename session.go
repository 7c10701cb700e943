package codescanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type closeMode int

const (
	closeUser closeMode = iota
	closeError
)

// Session is one scan session. Obtain it from Controller.Open.
type Session struct {
	c   *Controller
	id  string
	gen uint64

	ctx    context.Context
	cancel context.CancelFunc

	// Guarded by c.mu.
	camera      CameraHandle
	backend     backend
	backendKind BackendKind
	queue       []Event
	draining    bool
	lastMiss    time.Time
	stopAfter   func() bool

	wake     chan struct{}
	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
	pumpDone chan struct{}
	runDone  chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

func newSession(c *Controller, parent context.Context, gen uint64) *Session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Session{
		c:        c,
		id:       uuid.New().String(),
		gen:      gen,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		events:   make(chan Event),
		stop:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		runDone:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Generation returns the generation the session was opened under.
func (s *Session) Generation() uint64 { return s.gen }

// Backend returns the backend serving the session, BackendNone until one
// is running.
func (s *Session) Backend() BackendKind {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.backendKind
}

// Events returns the event stream. It is closed when the session ends:
// after Close, or after the last queued event of a session that ended on
// its own (acquisition or backend failure).
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once teardown has released every device.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the session. It may be called any number of times, from any
// goroutine, including the one reading Events. Undelivered events are
// discarded.
//
// When Close returns nil the camera and any engine device are released
// and Events is closed. If ctx expires first, ctx.Err() is returned and
// teardown finishes in the background.
func (s *Session) Close(ctx context.Context) error {
	s.c.closeGeneration(s)
	s.terminate(closeUser)
	s.stopPump()

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-s.pumpDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.closeErr
}

// aborted reports whether err is only the echo of s's own cancellation.
// A closed frame slot or stopped engine while s is still live means the
// device went away underneath it.
func (s *Session) aborted(err error) bool {
	return s.ctx.Err() != nil && isAbort(err)
}

// terminate starts teardown once. It never blocks on the controller mutex,
// so it may be called with c.mu held.
func (s *Session) terminate(mode closeMode) {
	s.closeOnce.Do(func() {
		go s.shutdown(mode)
	})
}

func (s *Session) shutdown(mode closeMode) {
	c := s.c
	started := time.Now()

	c.mu.Lock()
	if c.session == s {
		if mode == closeUser && c.state != StateError {
			c.state = StateClosing
		}
	}
	c.invalidateLocked(s)
	if mode == closeUser {
		s.queue = nil
	}
	cam, be := s.camera, s.backend
	s.camera, s.backend = nil, nil
	if s.stopAfter != nil {
		s.stopAfter()
	}
	c.mu.Unlock()

	// Abort acquisition, readiness and in-flight detection.
	s.cancel()

	var errs []error
	if be != nil {
		if err := be.stop(); err != nil && !isAbort(err) {
			errs = append(errs, err)
		}
	}
	if cam != nil {
		if err := cam.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	// The acquisition continuation releases anything it still holds once
	// it sees the stale generation.
	<-s.runDone

	c.mu.Lock()
	if c.session == s {
		c.session = nil
		c.state = StateIdle
	}
	if mode == closeError {
		s.draining = true
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	c.mu.Unlock()

	if mode == closeUser {
		s.stopPump()
		<-s.pumpDone
	}

	s.closeErr = errors.Join(errs...)
	close(s.done)

	c.logger.Info("code-scanner: session closed",
		"session_id", s.id,
		"generation", s.gen,
		"on_error", mode == closeError,
		"teardown", time.Since(started),
	)
}

// enqueueLocked appends ev for delivery. Callers hold c.mu.
func (s *Session) enqueueLocked(ev Event) {
	s.queue = append(s.queue, ev)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) stopPump() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// pump moves queued events onto the unbuffered Events channel so that
// emitting never blocks the controller.
func (s *Session) pump() {
	defer close(s.pumpDone)
	defer close(s.events)

	for {
		s.c.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.c.mu.Unlock()

			select {
			case s.events <- ev:
			case <-s.stop:
				return
			}
			continue
		}
		draining := s.draining
		s.c.mu.Unlock()

		if draining {
			return
		}
		select {
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}

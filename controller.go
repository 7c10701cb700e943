package codescanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/code-scanner/internal/debounce"
	"github.com/e7canasta/code-scanner/internal/payload"
)

// BackendMode restricts backend selection.
type BackendMode int

const (
	// BackendAuto prefers native and degrades to the fallback.
	BackendAuto BackendMode = iota
	// BackendNativeOnly never uses the fallback engine.
	BackendNativeOnly
	// BackendFallbackOnly skips the native probe.
	BackendFallbackOnly
)

func (m BackendMode) String() string {
	switch m {
	case BackendNativeOnly:
		return "native"
	case BackendFallbackOnly:
		return "fallback"
	default:
		return "auto"
	}
}

// ParseBackendMode maps "auto", "native" or "fallback" to a mode.
func ParseBackendMode(s string) (BackendMode, error) {
	switch s {
	case "", "auto":
		return BackendAuto, nil
	case "native":
		return BackendNativeOnly, nil
	case "fallback":
		return BackendFallbackOnly, nil
	}
	return BackendAuto, fmt.Errorf("code-scanner: unknown backend mode %q", s)
}

// Dependencies are the collaborators a Controller drives. Native and
// Fallback may be nil, meaning that backend does not exist here.
type Dependencies struct {
	Camera   CameraProvider
	Native   NativeDetectorFactory
	Fallback FallbackEngineFactory
}

// Options configure a Controller. Zero values select defaults.
type Options struct {
	// Facing is the preferred camera. FacingAny is always tried second.
	Facing Facing
	// Backend restricts backend selection.
	Backend BackendMode
	// DebounceWindow suppresses identical reads (default 1500ms).
	DebounceWindow time.Duration
	// PollRate is the native detection rate in attempts per second
	// (default 10).
	PollRate float64
	// BenignMissInterval is the minimum spacing of EventBenignMiss
	// (default 2s).
	BenignMissInterval time.Duration
	// MaxConsecutiveDetectErrors ends a native session after that many
	// failed detection attempts in a row (default 30, negative disables).
	MaxConsecutiveDetectErrors int
	// Rules is the payload prefix table (default DefaultRules).
	Rules []Rule
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = debounce.DefaultWindow
	}
	if o.PollRate <= 0 {
		o.PollRate = 10
	}
	if o.BenignMissInterval <= 0 {
		o.BenignMissInterval = 2 * time.Second
	}
	if o.MaxConsecutiveDetectErrors == 0 {
		o.MaxConsecutiveDetectErrors = 30
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ControllerStats is a snapshot of controller counters.
type ControllerStats struct {
	State               SessionState `json:"state"`
	Generation          uint64       `json:"generation"`
	Backend             BackendKind  `json:"backend"`
	SessionsOpened      uint64       `json:"sessions_opened"`
	ScanResults         uint64       `json:"scan_results"`
	Suppressed          uint64       `json:"suppressed"`
	AcquisitionFailures uint64       `json:"acquisition_failures"`
	BackendFailures     uint64       `json:"backend_failures"`
}

// Controller runs at most one scan session at a time.
//
// Thread-safety: all methods are safe for concurrent use. All state and the
// generation counter are guarded by one mutex; events are enqueued under
// that mutex so nothing from a superseded generation can be enqueued after
// the generation moves on.
type Controller struct {
	deps   Dependencies
	opts   Options
	router *payload.Router
	gate   *debounce.Gate
	logger *slog.Logger

	mu         sync.Mutex
	state      SessionState
	generation uint64
	lastOpened uint64
	session    *Session
	closed     bool

	sessionsOpened      uint64
	scanResults         uint64
	acquisitionFailures uint64
	backendFailures     uint64
}

// NewController validates deps and opts.
func NewController(deps Dependencies, opts Options) (*Controller, error) {
	if deps.Camera == nil {
		return nil, errors.New("code-scanner: camera provider is required")
	}
	opts = opts.withDefaults()

	router, err := payload.NewRouter(opts.Rules)
	if err != nil {
		return nil, fmt.Errorf("code-scanner: %w", err)
	}

	return &Controller{
		deps:   deps,
		opts:   opts,
		router: router,
		gate:   debounce.New(opts.DebounceWindow),
		logger: opts.Logger,
		state:  StateIdle,
	}, nil
}

// State returns the current state.
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generation returns the current generation. It advances on every Open and
// on every Session.Close of the latest session, and once more when a session
// ends on its own.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Session returns the active session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Stats returns a snapshot of counters.
func (c *Controller) Stats() ControllerStats {
	_, suppressed := c.gate.Stats()

	c.mu.Lock()
	defer c.mu.Unlock()

	stats := ControllerStats{
		State:               c.state,
		Generation:          c.generation,
		SessionsOpened:      c.sessionsOpened,
		ScanResults:         c.scanResults,
		Suppressed:          suppressed,
		AcquisitionFailures: c.acquisitionFailures,
		BackendFailures:     c.backendFailures,
	}
	if c.session != nil {
		stats.Backend = c.session.backendKind
	}
	return stats
}

// Open starts a new session and returns immediately in ACQUIRING.
//
// Cancelling ctx closes the session. Open fails with ErrSessionActive
// unless the controller is IDLE.
func (c *Controller) Open(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrControllerClosed
	}
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w (state %s)", ErrSessionActive, state)
	}

	c.generation++
	c.lastOpened = c.generation
	s := newSession(c, ctx, c.generation)
	c.session = s
	c.state = StateAcquiring
	c.sessionsOpened++
	c.gate.Reset()
	s.stopAfter = context.AfterFunc(ctx, func() { s.terminate(closeUser) })
	c.mu.Unlock()

	c.logger.Info("code-scanner: session opened",
		"session_id", s.id,
		"generation", s.gen,
		"facing", c.opts.Facing.String(),
		"backend_mode", c.opts.Backend.String(),
	)

	go s.pump()
	go c.run(s)

	return s, nil
}

// Close closes the active session, if any, and refuses further Opens.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close(ctx)
}

// currentLocked reports whether s is still the live session at its own
// generation. Callers hold c.mu.
func (c *Controller) currentLocked(s *Session) bool {
	return c.session == s && c.generation == s.gen
}

// invalidateLocked moves the generation past s so no continuation of s
// can act again. Callers hold c.mu.
func (c *Controller) invalidateLocked(s *Session) {
	if c.generation == s.gen {
		c.generation++
	}
}

// closeGeneration advances the generation for a Close of s, unless a
// newer session was opened since.
func (c *Controller) closeGeneration(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastOpened == s.gen {
		c.generation++
	}
}

// emitLocked enqueues an event for s. Callers hold c.mu.
func (c *Controller) emitLocked(s *Session, kind EventKind, fill func(*Event)) {
	ev := Event{
		Kind:       kind,
		SessionID:  s.id,
		Generation: s.gen,
		Backend:    s.backendKind,
		At:         c.opts.Now(),
	}
	if fill != nil {
		fill(&ev)
	}
	s.enqueueLocked(ev)

	c.logger.Debug("code-scanner: event", "kind", kind.String(), "session_id", s.id, "generation", s.gen)
}

// run is the acquisition continuation of a session.
func (c *Controller) run(s *Session) {
	defer close(s.runDone)
	ctx := s.ctx

	handle, facing, err := c.acquire(ctx)
	if err != nil {
		c.failAcquisition(s, err)
		return
	}

	c.mu.Lock()
	if !c.currentLocked(s) {
		c.mu.Unlock()
		handle.Close()
		c.logger.Debug("code-scanner: discarding camera acquired for stale session", "session_id", s.id)
		return
	}
	s.camera = handle
	c.mu.Unlock()

	switch c.selectBackend(s) {
	case BackendNative:
		c.startNative(s, handle, facing)
	case BackendFallback:
		c.startFallback(s, facing)
	default:
		c.failBackend(s, ErrBackendUnavailable)
	}
}

// acquire opens the preferred facing, then FacingAny.
func (c *Controller) acquire(ctx context.Context) (CameraHandle, Facing, error) {
	facing := c.opts.Facing
	handle, err := c.deps.Camera.Open(ctx, facing)
	if err == nil {
		return handle, facing, nil
	}
	if ctx.Err() != nil || facing == FacingAny {
		return nil, facing, err
	}

	c.logger.Warn("code-scanner: preferred camera unavailable, retrying with any facing",
		"facing", facing.String(),
		"error", err,
	)
	handle, err = c.deps.Camera.Open(ctx, FacingAny)
	if err != nil {
		return nil, FacingAny, err
	}
	return handle, FacingAny, nil
}

// selectBackend runs the capability probe (once per session) and picks a
// backend kind. BackendNone means nothing is usable.
func (c *Controller) selectBackend(s *Session) BackendKind {
	mode := c.opts.Backend

	if mode != BackendFallbackOnly && c.deps.Native != nil {
		err := c.deps.Native.Probe()
		if err == nil {
			return BackendNative
		}
		c.logger.Info("code-scanner: native detection unavailable", "session_id", s.id, "error", err)
	}
	if mode != BackendNativeOnly && c.deps.Fallback != nil {
		return BackendFallback
	}
	return BackendNone
}

func (c *Controller) startNative(s *Session, handle CameraHandle, facing Facing) {
	detector, err := c.deps.Native.New()
	if err != nil {
		if c.opts.Backend != BackendNativeOnly && c.deps.Fallback != nil {
			c.logger.Warn("code-scanner: native detector construction failed, degrading to fallback",
				"session_id", s.id,
				"error", err,
			)
			c.startFallback(s, facing)
			return
		}
		c.failBackend(s, fmt.Errorf("native detector: %w", err))
		return
	}

	if err := handle.Attach(s.ctx); err != nil {
		detector.Close()
		c.failAcquisition(s, err)
		return
	}

	b := &nativeBackend{
		detector:  detector,
		handle:    handle,
		pollRate:  c.opts.PollRate,
		maxErrors: c.opts.MaxConsecutiveDetectErrors,
		logger:    c.logger,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(s) {
		detector.Close()
		return
	}
	if err := b.start(s.ctx, c.sinkFor(s)); err != nil {
		detector.Close()
		c.failBackendLocked(s, err)
		return
	}
	s.backend = b
	s.backendKind = BackendNative
	c.state = StateDetecting
	c.emitLocked(s, EventReady, nil)
	c.logger.Info("code-scanner: detecting", "session_id", s.id, "backend", "native", "facing", facing.String())
}

func (c *Controller) startFallback(s *Session, facing Facing) {
	engine, err := c.deps.Fallback.New()
	if err != nil {
		c.failBackend(s, fmt.Errorf("fallback engine: %w", err))
		return
	}

	// The engine opens the device itself; ours must be released first.
	c.mu.Lock()
	current := c.currentLocked(s)
	cam := s.camera
	s.camera = nil
	b := &fallbackBackend{engine: engine, facing: facing}
	if current {
		s.backend = b
		s.backendKind = BackendFallback
	}
	c.mu.Unlock()

	if cam != nil {
		if err := cam.Close(); err != nil {
			c.logger.Warn("code-scanner: camera release before fallback failed", "session_id", s.id, "error", err)
		}
	}
	if !current {
		engine.Stop()
		return
	}

	if err := b.start(s.ctx, c.sinkFor(s)); err != nil {
		c.failBackend(s, fmt.Errorf("fallback engine: %w", err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(s) {
		return
	}
	c.state = StateDetecting
	c.emitLocked(s, EventReady, nil)
	c.logger.Info("code-scanner: detecting", "session_id", s.id, "backend", "fallback", "facing", facing.String())
}

func (c *Controller) sinkFor(s *Session) backendSink {
	return backendSink{
		decoded: func(text string, at time.Time, traceID string) { c.accept(s, text, at, traceID) },
		miss:    func() { c.benignMiss(s) },
		failure: func(err error) { c.failBackend(s, err) },
	}
}

// accept is the decode path shared by both backends:
// generation check, state check, debounce, route, emit.
func (c *Controller) accept(s *Session, text string, at time.Time, traceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.currentLocked(s) || c.state != StateDetecting {
		return
	}
	if !c.gate.Accept(text, c.opts.Now()) {
		return
	}

	code := c.router.Route(text)
	c.scanResults++
	c.emitLocked(s, EventScanResult, func(ev *Event) {
		ev.Code = &code
		ev.Decoded = &DecodedEvent{RawText: text, Timestamp: at, TraceID: traceID}
	})
	c.logger.Info("code-scanner: code scanned",
		"session_id", s.id,
		"kind", code.Kind.String(),
		"recognized", code.Recognized(),
		"trace_id", traceID,
	)
}

func (c *Controller) benignMiss(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.currentLocked(s) || c.state != StateDetecting {
		return
	}
	now := c.opts.Now()
	if !s.lastMiss.IsZero() && now.Sub(s.lastMiss) < c.opts.BenignMissInterval {
		return
	}
	s.lastMiss = now
	c.emitLocked(s, EventBenignMiss, nil)
}

func (c *Controller) failAcquisition(s *Session, err error) {
	c.mu.Lock()
	if !c.currentLocked(s) || s.aborted(err) {
		c.mu.Unlock()
		return
	}
	reason := ReasonUnknown
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		reason = acqErr.Reason
	}
	c.acquisitionFailures++
	c.emitLocked(s, EventAcquisitionFailed, func(ev *Event) { ev.Reason = string(reason) })
	c.invalidateLocked(s)
	c.state = StateError
	c.mu.Unlock()

	c.logger.Error("code-scanner: camera acquisition failed", "session_id", s.id, "reason", string(reason), "error", err)
	s.terminate(closeError)
}

func (c *Controller) failBackend(s *Session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failBackendLocked(s, err)
}

// failBackendLocked ends s with EventFatalBackendFailure. Teardown runs on
// its own goroutine, so this is safe from backend callbacks.
func (c *Controller) failBackendLocked(s *Session, err error) {
	if !c.currentLocked(s) || s.aborted(err) {
		return
	}
	c.backendFailures++
	c.emitLocked(s, EventFatalBackendFailure, func(ev *Event) { ev.Reason = err.Error() })
	c.invalidateLocked(s)
	c.state = StateError

	c.logger.Error("code-scanner: detection backend failed", "session_id", s.id, "backend", s.backendKind.String(), "error", err)
	s.terminate(closeError)
}

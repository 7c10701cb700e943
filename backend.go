package codescanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// backendSink receives backend output on behalf of one session.
type backendSink struct {
	decoded func(text string, at time.Time, traceID string)
	miss    func()
	failure func(err error)
}

// backend adapts both detection styles to one start/stop contract.
type backend interface {
	kind() BackendKind
	start(ctx context.Context, sink backendSink) error
	stop() error
}

var errBackendStopped = errors.New("code-scanner: backend stopped")

// nativeBackend pulls the current frame at a bounded rate and decodes it.
// The camera handle stays owned by the session; stop only ends the loop and
// closes the detector.
type nativeBackend struct {
	detector  FrameDetector
	handle    CameraHandle
	pollRate  float64
	maxErrors int
	logger    *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

func (b *nativeBackend) kind() BackendKind { return BackendNative }

func (b *nativeBackend) start(ctx context.Context, sink backendSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return errBackendStopped
	}
	if b.cancel != nil {
		return errors.New("code-scanner: native backend already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.wg.Add(1)
	go b.loop(loopCtx, sink)
	return nil
}

func (b *nativeBackend) loop(ctx context.Context, sink backendSink) {
	defer b.wg.Done()

	limiter := rate.NewLimiter(rate.Limit(b.pollRate), 1)

	var lost <-chan struct{}
	if lr, ok := b.handle.(lossReporter); ok {
		lost = lr.Done()
	}

	var lastSeq uint64
	consecutiveErrors := 0

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		select {
		case <-lost:
			err := b.handle.(lossReporter).Err()
			sink.failure(fmt.Errorf("camera lost: %w", err))
			return
		default:
		}

		frame, ok := b.handle.CurrentFrame()
		if !ok || frame.Seq == lastSeq {
			continue
		}
		lastSeq = frame.Seq

		text, found, err := b.detector.DetectOnce(frame)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			consecutiveErrors++
			b.logger.Debug("code-scanner: detection attempt failed",
				"seq", frame.Seq,
				"error", err,
				"consecutive", consecutiveErrors,
			)
			if b.maxErrors > 0 && consecutiveErrors >= b.maxErrors {
				sink.failure(fmt.Errorf("native detector failed %d times in a row: %w", consecutiveErrors, err))
				return
			}
			continue
		}
		consecutiveErrors = 0

		if found {
			sink.decoded(text, frame.Timestamp, frame.TraceID)
		} else {
			sink.miss()
		}
	}
}

func (b *nativeBackend) stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	return b.detector.Close()
}

// fallbackBackend forwards engine callbacks.
type fallbackBackend struct {
	engine FallbackEngine
	facing Facing

	mu      sync.Mutex
	stopped bool
}

func (b *fallbackBackend) kind() BackendKind { return BackendFallback }

func (b *fallbackBackend) start(ctx context.Context, sink backendSink) error {
	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return errBackendStopped
	}

	return b.engine.Start(ctx, b.facing, EngineCallbacks{
		OnDecoded: func(text string, at time.Time) {
			sink.decoded(text, at, "")
		},
		OnBenignMiss: sink.miss,
		OnFailure:    sink.failure,
	})
}

func (b *fallbackBackend) stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	b.mu.Unlock()

	return b.engine.Stop()
}

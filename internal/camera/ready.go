package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ReadyConfig controls the readiness gate run by Handle.Attach.
type ReadyConfig struct {
	// MinFrames is the number of frames that must arrive before the sink is
	// considered playable. Values below 1 are treated as 1.
	MinFrames int
	// Timeout bounds the wait. Zero waits until ctx is done.
	Timeout time.Duration
}

// WaitReady blocks until cfg.MinFrames frames have been published to slot.
//
// Cancellation of ctx returns ctx.Err() unchanged so callers can tell an
// abort from a failure. Expiry of cfg.Timeout is an acquisition failure with
// ReasonUnknown.
func WaitReady(ctx context.Context, slot *Slot, cfg ReadyConfig, logger *slog.Logger) (ReadyStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	want := cfg.MinFrames
	if want < 1 {
		want = 1
	}

	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	times := make([]time.Time, 0, want)
	var seq uint64
	for len(times) < want {
		f, err := slot.Wait(waitCtx, seq)
		if err != nil {
			if ctx.Err() != nil {
				return ReadyStats{}, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return ReadyStats{}, &AcquisitionError{
					Reason: ReasonUnknown,
					Facing: FacingAny,
					Err:    fmt.Errorf("no frames within %s (got %d of %d)", cfg.Timeout, len(times), want),
				}
			}
			return ReadyStats{}, &AcquisitionError{Reason: ReasonUnknown, Facing: FacingAny, Err: err}
		}
		seq = f.Seq
		times = append(times, f.Timestamp)
	}

	stats := CalculateFPSStats(times, time.Since(start))
	logger.Info("camera: sink ready",
		"frames", stats.FramesReceived,
		"duration", stats.Duration,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"jitter_mean", fmt.Sprintf("%.3fs", stats.JitterMean),
		"stable", stats.IsStable,
	)
	return stats, nil
}

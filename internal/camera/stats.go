package camera

import (
	"math"
	"time"
)

const (
	// A stream is stable when FPS stddev stays under 15% of the mean and
	// mean jitter under 20% of the expected frame interval.
	fpsStabilityThreshold    = 0.15
	jitterStabilityThreshold = 0.20
)

// ReadyStats describes the frames observed while waiting for readiness.
type ReadyStats struct {
	FramesReceived int
	Duration       time.Duration
	FPSMean        float64
	FPSStdDev      float64
	FPSMin         float64
	FPSMax         float64
	JitterMean     float64 // seconds
	JitterMax      float64 // seconds
	IsStable       bool
}

// CalculateFPSStats derives rate and jitter statistics from frame arrival
// times observed over totalDuration.
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) ReadyStats {
	n := len(frameTimes)
	stats := ReadyStats{FramesReceived: n, Duration: totalDuration}
	if n == 0 || totalDuration <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / totalDuration.Seconds()

	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if d := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); d > 0 {
			intervals = append(intervals, d)
		}
	}
	if len(intervals) == 0 {
		return stats
	}

	stats.FPSMin = math.Inf(1)
	var sumSquares float64
	for _, d := range intervals {
		fps := 1.0 / d
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
		diff := fps - stats.FPSMean
		sumSquares += diff * diff
	}
	stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(intervals)))

	expected := 1.0 / stats.FPSMean
	var jitterSum float64
	for _, d := range intervals {
		j := math.Abs(d - expected)
		jitterSum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = jitterSum / float64(len(intervals))

	stats.IsStable = stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold
	return stats
}

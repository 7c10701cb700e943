package camera

import (
	"testing"
	"time"
)

func TestCalculateFPSStats(t *testing.T) {
	base := time.Now()
	steady := make([]time.Time, 30)
	for i := range steady {
		steady[i] = base.Add(time.Duration(i) * 100 * time.Millisecond)
	}

	erratic := []time.Time{
		base,
		base.Add(10 * time.Millisecond),
		base.Add(400 * time.Millisecond),
		base.Add(420 * time.Millisecond),
		base.Add(1000 * time.Millisecond),
	}

	tests := []struct {
		name       string
		times      []time.Time
		duration   time.Duration
		wantStable bool
		minFPS     float64
		maxFPS     float64
	}{
		{"no frames", nil, time.Second, false, 0, 0},
		{"single frame", steady[:1], time.Second, false, 1, 1},
		{"steady 10fps", steady, 3 * time.Second, true, 9.5, 10.5},
		{"erratic", erratic, time.Second, false, 4, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := CalculateFPSStats(tt.times, tt.duration)
			if stats.IsStable != tt.wantStable {
				t.Errorf("IsStable = %v, want %v (stats %+v)", stats.IsStable, tt.wantStable, stats)
			}
			if stats.FPSMean < tt.minFPS || stats.FPSMean > tt.maxFPS {
				t.Errorf("FPSMean = %.2f, want in [%.1f, %.1f]", stats.FPSMean, tt.minFPS, tt.maxFPS)
			}
		})
	}
}

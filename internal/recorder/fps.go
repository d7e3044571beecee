package recorder

import (
	"math"
	"sync"
	"time"
)

const (
	// fpsWindow is how many preview timestamps the meter keeps
	fpsWindow = 48

	// A preview is stable when the FPS stddev is under 15% of the mean and
	// the mean jitter under 20% of the expected interval.
	fpsStabilityThreshold    = 0.15
	jitterStabilityThreshold = 0.20
)

// FPSStats describes the preview frame rate over the recent window
type FPSStats struct {
	Frames     int
	Mean       float64
	StdDev     float64
	Min        float64
	Max        float64
	JitterMean time.Duration
	Stable     bool
}

// fpsMeter keeps the timestamps of the last fpsWindow preview frames
type fpsMeter struct {
	mu    sync.Mutex
	times [fpsWindow]time.Time
	next  int
	count int
}

func (m *fpsMeter) observe(t time.Time) {
	m.mu.Lock()
	m.times[m.next] = t
	m.next = (m.next + 1) % fpsWindow
	if m.count < fpsWindow {
		m.count++
	}
	m.mu.Unlock()
}

func (m *fpsMeter) reset() {
	m.mu.Lock()
	m.next, m.count = 0, 0
	m.mu.Unlock()
}

// window returns the stored timestamps oldest first
func (m *fpsMeter) window() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]time.Time, 0, m.count)
	start := (m.next - m.count + fpsWindow) % fpsWindow
	for i := 0; i < m.count; i++ {
		out = append(out, m.times[(start+i)%fpsWindow])
	}
	return out
}

func (m *fpsMeter) stats() FPSStats {
	return calculateFPSStats(m.window())
}

// calculateFPSStats derives mean, spread and jitter from frame timestamps
func calculateFPSStats(frameTimes []time.Time) FPSStats {
	n := len(frameTimes)
	stats := FPSStats{Frames: n}
	if n < 2 {
		return stats
	}

	span := frameTimes[n-1].Sub(frameTimes[0]).Seconds()
	if span <= 0 {
		return stats
	}
	// n timestamps delimit n-1 intervals
	stats.Mean = float64(n-1) / span

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return stats
	}

	stats.Min, stats.Max = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		stats.Min = math.Min(stats.Min, fps)
		stats.Max = math.Max(stats.Max, fps)
		diff := fps - stats.Mean
		sumSquares += diff * diff
	}
	stats.StdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1.0 / stats.Mean
	var jitterSum float64
	for i := 1; i < n; i++ {
		jitterSum += math.Abs(frameTimes[i].Sub(frameTimes[i-1]).Seconds() - expected)
	}
	jitterMean := jitterSum / float64(n-1)
	stats.JitterMean = time.Duration(jitterMean * float64(time.Second))

	stats.Stable = stats.StdDev < stats.Mean*fpsStabilityThreshold &&
		jitterMean < expected*jitterStabilityThreshold
	return stats
}

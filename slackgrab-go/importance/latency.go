package importance

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

const latencyWindowSize = 512

// LatencyStats summarizes recent scoring latencies in milliseconds.
type LatencyStats struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
	Slow  int64   `json:"slow"`
}

// latencyWindow keeps the most recent scoring latencies.
type latencyWindow struct {
	mu      sync.Mutex
	samples []float64
	next    int
	slow    int64
}

func newLatencyWindow() *latencyWindow {
	return &latencyWindow{samples: make([]float64, 0, latencyWindowSize)}
}

func (w *latencyWindow) observe(d time.Duration, slow bool) {
	ms := float64(d) / float64(time.Millisecond)
	w.mu.Lock()
	defer w.mu.Unlock()
	if slow {
		w.slow++
	}
	if len(w.samples) < latencyWindowSize {
		w.samples = append(w.samples, ms)
		return
	}
	w.samples[w.next] = ms
	w.next = (w.next + 1) % latencyWindowSize
}

func (w *latencyWindow) stats() LatencyStats {
	w.mu.Lock()
	data := append([]float64(nil), w.samples...)
	slow := w.slow
	w.mu.Unlock()

	ls := LatencyStats{Count: len(data), Slow: slow}
	if len(data) == 0 {
		return ls
	}
	ls.P50, _ = stats.Percentile(data, 50)
	ls.P95, _ = stats.Percentile(data, 95)
	ls.P99, _ = stats.Percentile(data, 99)
	ls.Max, _ = stats.Max(data)
	return ls
}

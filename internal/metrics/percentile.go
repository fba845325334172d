package metrics

import (
	"math"
	"slices"
	"sync"
)

// Percentile returns the nearest-rank p-th percentile (0 < p <= 100) of
// values. values is not modified. An empty input yields 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	rank = max(rank, 1)
	rank = min(rank, len(sorted))
	return sorted[rank-1]
}

// Window keeps the most recent samples up to a fixed capacity.
type Window struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

// NewWindow creates a window holding size samples.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{samples: make([]float64, size)}
}

// Add records v, overwriting the oldest sample when full.
func (w *Window) Add(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = v
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Values returns a copy of the retained samples.
func (w *Window) Values() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return slices.Clone(w.samples)
	}
	return slices.Clone(w.samples[:w.next])
}

// LatencySummary is a percentile digest of a window, in milliseconds.
type LatencySummary struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

// Summary digests the window's samples.
func (w *Window) Summary() LatencySummary {
	v := w.Values()
	return LatencySummary{
		Count: len(v),
		P50:   Percentile(v, 50),
		P95:   Percentile(v, 95),
		P99:   Percentile(v, 99),
	}
}

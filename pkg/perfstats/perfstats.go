// Package perfstats is a single place where we record the performance of
// the pipeline stages, so that it's easy to compare devices and to spot a
// stage that has started missing its latency budget.
package perfstats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Two scalars (N samples and X total amount), which can measure total and average values.
type Accumulator struct {
	Samples int64
	Total   float64
}

func (a *Accumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *Accumulator) AddSample(v float64) {
	a.Samples++
	a.Total += v
}

func (a *Accumulator) Average() float64 {
	if a.Samples == 0 {
		return 0
	}
	return a.Total / float64(a.Samples)
}

// UpdateMovingAverage folds a new sample into an exponentially decaying
// average held in an atomic. We don't bother with CompareAndSwap here:
// this is sampled stats, and it's OK to miss one or two samples.
func UpdateMovingAverage(stat *atomic.Int64, value int64) {
	if stat.Load() == 0 {
		stat.Store(value)
	} else {
		stat.Store((stat.Load()*63 + value) >> 6)
	}
}

// LatencyWindow is a bounded ring buffer of duration samples from which
// percentiles are computed on demand. Thread-safe.
type LatencyWindow struct {
	mu   sync.Mutex
	data []time.Duration
	pos  int
	full bool
}

func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 100
	}
	return &LatencyWindow{
		data: make([]time.Duration, size),
	}
}

func (lw *LatencyWindow) Add(d time.Duration) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.data[lw.pos] = d
	lw.pos++
	if lw.pos >= len(lw.data) {
		lw.pos = 0
		lw.full = true
	}
}

// Percentile returns the value at percentile p (0.0-1.0), nearest-rank.
func (lw *LatencyWindow) Percentile(p float64) time.Duration {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	n := lw.pos
	if lw.full {
		n = len(lw.data)
	}
	if n == 0 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, lw.data[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(p*float64(n)+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

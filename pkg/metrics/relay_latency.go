// Package metrics keeps in-process counters and latency percentiles for the
// stats endpoint.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent samples in a ring buffer and
// computes percentiles over them.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []int64 // microseconds
	next    int
	full    bool
	count   int64
}

// NewLatencyTracker creates a tracker keeping windowSize samples.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{samples: make([]int64, windowSize)}
}

// Record records a latency measurement.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.samples[lt.next] = d.Microseconds()
	lt.next++
	if lt.next == len(lt.samples) {
		lt.next = 0
		lt.full = true
	}
	lt.count++
}

// Stats returns statistics over the current window. Count is the lifetime total.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	n := lt.next
	if lt.full {
		n = len(lt.samples)
	}
	window := make([]int64, n)
	copy(window, lt.samples[:n])
	count := lt.count
	lt.mu.Unlock()

	if n == 0 {
		return LatencyStats{}
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	var sum int64
	for _, v := range window {
		sum += v
	}
	at := func(p float64) time.Duration {
		return time.Duration(window[int(float64(n-1)*p)]) * time.Microsecond
	}

	return LatencyStats{
		Count:   count,
		Min:     time.Duration(window[0]) * time.Microsecond,
		Max:     time.Duration(window[n-1]) * time.Microsecond,
		Avg:     time.Duration(sum/int64(n)) * time.Microsecond,
		P50:     at(0.50),
		P95:     at(0.95),
		P99:     at(0.99),
		Samples: n,
	}
}

// Reset clears all samples.
func (lt *LatencyTracker) Reset() {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.next, lt.full, lt.count = 0, false, 0
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	P50     time.Duration
	P95     time.Duration
	P99     time.Duration
	Samples int
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// ToMap renders the stats in milliseconds.
func (s LatencyStats) ToMap() map[string]any {
	return map[string]any{
		"count":       s.Count,
		"min_ms":      ms(s.Min),
		"max_ms":      ms(s.Max),
		"avg_ms":      ms(s.Avg),
		"p50_ms":      ms(s.P50),
		"p95_ms":      ms(s.P95),
		"p99_ms":      ms(s.P99),
		"sample_size": s.Samples,
	}
}

package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counter and latency names used across the relay.
const (
	SubmissionsReceived = "submissions_received"
	SubmissionsExcluded = "submissions_excluded"
	SubmissionsPreview  = "submissions_preview"
	MessageOverrides    = "message_overrides"
	DeliveriesQueued    = "deliveries_queued"
	DeliveriesDelivered = "deliveries_delivered"
	DeliveriesFailed    = "deliveries_failed"
	DeliveriesRejected  = "deliveries_rejected"
	DispatchErrors      = "dispatch_errors"

	LatencyClassify = "classify"
	LatencyDelivery = "delivery"
)

// Registry holds named counters and latency trackers.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	trackers map[string]*LatencyTracker
	window   int
}

func NewRegistry(windowSize int) *Registry {
	return &Registry{
		counters: make(map[string]*atomic.Int64),
		trackers: make(map[string]*LatencyTracker),
		window:   windowSize,
	}
}

func (r *Registry) counter(name string) *atomic.Int64 {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; !ok {
		c = &atomic.Int64{}
		r.counters[name] = c
	}
	return c
}

func (r *Registry) tracker(name string) *LatencyTracker {
	r.mu.RLock()
	t, ok := r.trackers[name]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok = r.trackers[name]; !ok {
		t = NewLatencyTracker(r.window)
		r.trackers[name] = t
	}
	return t
}

// Inc adds one to a counter.
func (r *Registry) Inc(name string) {
	r.counter(name).Add(1)
}

// Count returns the current value of a counter.
func (r *Registry) Count(name string) int64 {
	return r.counter(name).Load()
}

// Observe records a latency sample.
func (r *Registry) Observe(name string, d time.Duration) {
	r.tracker(name).Record(d)
}

// Since records the time elapsed since start.
func (r *Registry) Since(name string, start time.Time) {
	r.Observe(name, time.Since(start))
}

// Latency returns the stats of one tracker.
func (r *Registry) Latency(name string) LatencyStats {
	return r.tracker(name).Stats()
}

// Snapshot renders every counter and tracker.
func (r *Registry) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counters := make(map[string]int64, len(r.counters))
	for name, c := range r.counters {
		counters[name] = c.Load()
	}
	latency := make(map[string]any, len(r.trackers))
	for name, t := range r.trackers {
		latency[name] = t.Stats().ToMap()
	}
	return map[string]any{"counters": counters, "latency": latency}
}

// Names returns the counter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.counters))
	for name := range r.counters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry(1000)
	})
	return global
}

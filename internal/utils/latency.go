package utils

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencySummary condenses the retained samples of one tracker.
type LatencySummary struct {
	Count int           `json:"count"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	Max   time.Duration `json:"max"`
}

// LatencyTracker keeps the most recent samples in a ring and answers percentile
// queries over them.
type LatencyTracker struct {
	mu   sync.Mutex
	ring []time.Duration
	next int
	full bool
}

// NewLatencyTracker creates a tracker retaining up to capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 256
	}
	return &LatencyTracker{ring: make([]time.Duration, capacity)}
}

// Observe records one sample, overwriting the oldest once the ring is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	l.ring[l.next] = d
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
}

// Count returns how many samples are retained.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.countLocked()
}

// Percentile returns the nearest-rank percentile (0-100) of the retained samples,
// zero when there are none.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	return rank(l.sorted(), p)
}

// Summary returns count, median, p95 and maximum in one pass.
func (l *LatencyTracker) Summary() LatencySummary {
	sorted := l.sorted()
	if len(sorted) == 0 {
		return LatencySummary{}
	}
	return LatencySummary{
		Count: len(sorted),
		P50:   rank(sorted, 50),
		P95:   rank(sorted, 95),
		Max:   sorted[len(sorted)-1],
	}
}

func (l *LatencyTracker) countLocked() int {
	if l.full {
		return len(l.ring)
	}
	return l.next
}

func (l *LatencyTracker) sorted() []time.Duration {
	l.mu.Lock()
	out := append([]time.Duration(nil), l.ring[:l.countLocked()]...)
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func rank(sorted []time.Duration, p float64) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// LatencySet tracks samples per name, for example per pipeline stage.
type LatencySet struct {
	mu       sync.RWMutex
	capacity int
	trackers map[string]*LatencyTracker
}

// NewLatencySet creates a set whose trackers each retain up to capacity samples.
func NewLatencySet(capacity int) *LatencySet {
	return &LatencySet{capacity: capacity, trackers: map[string]*LatencyTracker{}}
}

// Observe records d under name.
func (s *LatencySet) Observe(name string, d time.Duration) {
	s.mu.RLock()
	t, ok := s.trackers[name]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if t, ok = s.trackers[name]; !ok {
			t = NewLatencyTracker(s.capacity)
			s.trackers[name] = t
		}
		s.mu.Unlock()
	}
	t.Observe(d)
}

// Summaries returns one summary per observed name.
func (s *LatencySet) Summaries() map[string]LatencySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]LatencySummary, len(s.trackers))
	for name, t := range s.trackers {
		out[name] = t.Summary()
	}
	return out
}

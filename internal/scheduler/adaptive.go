package scheduler

import (
	"sync"
	"time"
)

// AdaptiveSchedule is a cron.Schedule whose interval shrinks while a device keeps
// producing findings and relaxes while it stays clean.
type AdaptiveSchedule struct {
	mu       sync.Mutex
	interval time.Duration
	floor    time.Duration
	ceiling  time.Duration
	adaptive bool
}

// NewAdaptiveSchedule starts at base. With adaptive false the interval never changes.
func NewAdaptiveSchedule(base, floor, ceiling time.Duration, adaptive bool) *AdaptiveSchedule {
	if base <= 0 {
		base = time.Minute
	}
	if floor <= 0 || floor > base {
		floor = minDuration(base, 10*time.Second)
	}
	if ceiling < base {
		ceiling = maxDuration(base, time.Hour)
	}
	return &AdaptiveSchedule{interval: base, floor: floor, ceiling: ceiling, adaptive: adaptive}
}

// Next implements cron.Schedule.
func (s *AdaptiveSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval())
}

// Interval returns the current polling interval.
func (s *AdaptiveSchedule) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Adjust halves the interval after a run with findings and grows it by half after a
// clean run, bounded by the floor and ceiling. It returns the new interval.
func (s *AdaptiveSchedule) Adjust(hadFindings bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.adaptive {
		return s.interval
	}
	next := s.interval * 3 / 2
	if hadFindings {
		next = s.interval / 2
	}
	if next < s.floor {
		next = s.floor
	}
	if next > s.ceiling {
		next = s.ceiling
	}
	s.interval = next
	return next
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

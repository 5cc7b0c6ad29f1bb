package engine

import (
	"sync"

	"github.com/miradorstack/mirador-netops/internal/models"
)

// DeltaSuffix names the derived per-poll delta metric of a counter.
const DeltaSuffix = "_delta"

type counterSample struct {
	value float64
	at    int64
}

// DeltaTracker keeps the previous value of every counter per (device, variable, subject).
type DeltaTracker struct {
	mu   sync.Mutex
	prev map[string]counterSample
}

// NewDeltaTracker creates an empty tracker.
func NewDeltaTracker() *DeltaTracker {
	return &DeltaTracker{prev: make(map[string]counterSample)}
}

// Observe records counter m and returns the derived delta gauge. ok is false on the
// first sample, on stale samples, and after a reset (the value went down).
func (t *DeltaTracker) Observe(m models.Metric) (delta models.Metric, ok bool, reset bool) {
	key := m.DeviceID + "|" + m.Key()
	at := m.Timestamp.UnixNano()

	t.mu.Lock()
	prev, seen := t.prev[key]
	if seen && at < prev.at {
		t.mu.Unlock()
		return models.Metric{}, false, false
	}
	t.prev[key] = counterSample{value: m.Value, at: at}
	t.mu.Unlock()

	if !seen {
		return models.Metric{}, false, false
	}
	if m.Value < prev.value {
		return models.Metric{}, false, true
	}
	return models.Metric{
		DeviceID:  m.DeviceID,
		Variable:  m.Variable + DeltaSuffix,
		Type:      models.MetricGauge,
		Value:     m.Value - prev.value,
		Unit:      m.Unit,
		Labels:    m.Labels,
		Timestamp: m.Timestamp,
	}, true, false
}

// Forget drops the counters of deviceID.
func (t *DeltaTracker) Forget(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := deviceID + "|"
	for key := range t.prev {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(t.prev, key)
		}
	}
}

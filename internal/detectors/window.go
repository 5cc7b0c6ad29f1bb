package detectors

import (
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/miradorstack/mirador-netops/internal/metrics"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// WindowKey identifies one rolling window.
type WindowKey struct {
	DeviceID string
	Variable string
}

type window struct {
	mu     sync.Mutex
	points []models.Metric
}

// WindowArena owns the per-(device, variable) rolling windows that persist across runs.
// The least recently observed windows are evicted once capacity is reached.
type WindowArena struct {
	size      int
	cache     *lru.Cache[WindowKey, *window]
	evictions atomic.Int64
}

// NewWindowArena creates an arena holding at most capacity windows of size points each.
func NewWindowArena(capacity, size int) (*WindowArena, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	if size <= 0 {
		size = 120
	}
	a := &WindowArena{size: size}
	cache, err := lru.NewWithEvict[WindowKey, *window](capacity, func(WindowKey, *window) {
		a.evictions.Add(1)
		metrics.AddWindowEvictions(1)
	})
	if err != nil {
		return nil, fmt.Errorf("window arena: %w", err)
	}
	a.cache = cache
	return a, nil
}

// Observe appends m to its window and returns a snapshot series.
// Out-of-order points older than the newest one are ignored.
func (a *WindowArena) Observe(m models.Metric, tags []string) Series {
	key := WindowKey{DeviceID: m.DeviceID, Variable: m.Key()}
	w, ok := a.cache.Get(key)
	if !ok {
		w = &window{}
		if prev, found, _ := a.cache.PeekOrAdd(key, w); found {
			w = prev
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.points); n == 0 || !m.Timestamp.Before(w.points[n-1].Timestamp) {
		w.points = append(w.points, m)
		if len(w.points) > a.size {
			w.points = append(w.points[:0:0], w.points[len(w.points)-a.size:]...)
		}
	}
	return Series{
		DeviceID: m.DeviceID,
		Variable: m.Variable,
		Subject:  m.Subject(),
		Type:     m.Type,
		Tags:     append([]string(nil), tags...),
		Points:   append([]models.Metric(nil), w.points...),
	}
}

// Snapshot returns the current window for key without modifying it.
func (a *WindowArena) Snapshot(key WindowKey) ([]models.Metric, bool) {
	w, ok := a.cache.Peek(key)
	if !ok {
		return nil, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.Metric(nil), w.points...), true
}

// Forget drops every window belonging to deviceID.
func (a *WindowArena) Forget(deviceID string) {
	for _, key := range a.cache.Keys() {
		if key.DeviceID == deviceID {
			a.cache.Remove(key)
		}
	}
}

// Len returns the number of live windows.
func (a *WindowArena) Len() int { return a.cache.Len() }

// Evictions returns how many windows were dropped from the arena.
func (a *WindowArena) Evictions() int64 { return a.evictions.Load() }

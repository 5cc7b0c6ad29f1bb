package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// MemoryStore keeps everything in process. Metrics are capped per device, oldest
// dropped first.
type MemoryStore struct {
	mu           sync.RWMutex
	maxPerDevice int
	metrics      map[string][]models.Metric
	runs         map[string]models.PipelineRun
	alerts       map[string]models.Alert
	incidents    map[string]models.Incident
	hotspots     map[string]models.Hotspot
}

// NewMemoryStore creates a store keeping at most maxPerDevice metrics per device.
func NewMemoryStore(maxPerDevice int) *MemoryStore {
	if maxPerDevice <= 0 {
		maxPerDevice = 10000
	}
	return &MemoryStore{
		maxPerDevice: maxPerDevice,
		metrics:      make(map[string][]models.Metric),
		runs:         make(map[string]models.PipelineRun),
		alerts:       make(map[string]models.Alert),
		incidents:    make(map[string]models.Incident),
		hotspots:     make(map[string]models.Hotspot),
	}
}

// StoreMetrics implements Store.
func (s *MemoryStore) StoreMetrics(_ context.Context, metrics []models.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range metrics {
		series := append(s.metrics[m.DeviceID], m)
		if len(series) > s.maxPerDevice {
			series = append([]models.Metric(nil), series[len(series)-s.maxPerDevice:]...)
		}
		s.metrics[m.DeviceID] = series
	}
	return nil
}

// QueryMetrics implements Store.
func (s *MemoryStore) QueryMetrics(_ context.Context, q MetricQuery) ([]models.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Metric
	for _, m := range s.metrics[q.DeviceID] {
		if q.Variable != "" && m.Variable != q.Variable {
			continue
		}
		if !q.From.IsZero() && m.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && m.Timestamp.After(q.To) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

// LatestMetrics implements Store.
func (s *MemoryStore) LatestMetrics(_ context.Context, deviceID string) ([]models.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]models.Metric)
	for _, m := range s.metrics[deviceID] {
		if prev, ok := latest[m.Key()]; !ok || !m.Timestamp.Before(prev.Timestamp) {
			latest[m.Key()] = m
		}
	}
	out := make([]models.Metric, 0, len(latest))
	for _, m := range latest {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// StoreRun implements Store.
func (s *MemoryStore) StoreRun(_ context.Context, run models.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// GetRun implements Store.
func (s *MemoryStore) GetRun(_ context.Context, id string) (models.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return models.PipelineRun{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, nil
}

// ListRuns implements Store.
func (s *MemoryStore) ListRuns(_ context.Context, deviceID string, limit int) ([]models.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PipelineRun
	for _, run := range s.runs {
		if deviceID == "" || run.DeviceID == deviceID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	return truncate(out, limit), nil
}

// UpsertAlert implements Store.
func (s *MemoryStore) UpsertAlert(_ context.Context, alert models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = alert.Clone()
	return nil
}

// GetAlert implements Store.
func (s *MemoryStore) GetAlert(_ context.Context, id string) (models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

// ListAlerts implements Store.
func (s *MemoryStore) ListAlerts(_ context.Context, limit int) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return truncate(out, limit), nil
}

// UpsertIncident implements Store.
func (s *MemoryStore) UpsertIncident(_ context.Context, incident models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.ID] = incident
	return nil
}

// GetIncident implements Store.
func (s *MemoryStore) GetIncident(_ context.Context, id string) (models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return models.Incident{}, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return inc, nil
}

// ListIncidents implements Store. An empty status matches every incident.
func (s *MemoryStore) ListIncidents(_ context.Context, status models.IncidentStatus, limit int) ([]models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Incident
	for _, inc := range s.incidents {
		if status == "" || inc.Status == status {
			out = append(out, inc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdate.Equal(out[j].LastUpdate) {
			return out[i].LastUpdate.After(out[j].LastUpdate)
		}
		return out[i].ID > out[j].ID
	})
	return truncate(out, limit), nil
}

// StoreHotspots implements Store. Hotspots are replaced per device.
func (s *MemoryStore) StoreHotspots(_ context.Context, hotspots []models.Hotspot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hotspots {
		s.hotspots[h.DeviceID] = h
	}
	return nil
}

// Hotspots implements Store.
func (s *MemoryStore) Hotspots(_ context.Context) ([]models.Hotspot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Hotspot, 0, len(s.hotspots))
	for _, h := range s.hotspots {
		out = append(out, h)
	}
	sortHotspots(out)
	return out, nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(_ context.Context, now time.Time, keep config.RetentionConfig) (PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res PruneResult

	if before := cutoff(now, keep.Metrics); !before.IsZero() {
		for device, series := range s.metrics {
			kept := series[:0]
			for _, m := range series {
				if m.Timestamp.Before(before) {
					res.Metrics++
					continue
				}
				kept = append(kept, m)
			}
			if len(kept) == 0 {
				delete(s.metrics, device)
				continue
			}
			s.metrics[device] = kept
		}
	}
	if before := cutoff(now, keep.Runs); !before.IsZero() {
		for id, run := range s.runs {
			if run.StartedAt.Before(before) {
				delete(s.runs, id)
				res.Runs++
			}
		}
	}
	if before := cutoff(now, keep.Alerts); !before.IsZero() {
		for id, alert := range s.alerts {
			if alert.Status.Terminal() && alert.CreatedAt.Before(before) {
				delete(s.alerts, id)
				res.Alerts++
			}
		}
	}
	return res, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func sortHotspots(hotspots []models.Hotspot) {
	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].Prevalence != hotspots[j].Prevalence {
			return hotspots[i].Prevalence > hotspots[j].Prevalence
		}
		return hotspots[i].DeviceID < hotspots[j].DeviceID
	})
}

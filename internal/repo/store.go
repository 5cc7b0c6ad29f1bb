package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// ErrNotFound is returned by point reads for unknown ids.
var ErrNotFound = errors.New("record not found")

// MetricQuery selects a metric range. Zero bounds are open; Variable matches the bare
// variable name across subjects.
type MetricQuery struct {
	DeviceID string
	Variable string
	From     time.Time
	To       time.Time
	Limit    int
}

// Store persists metrics, run records, alerts, incidents and hotspots.
type Store interface {
	StoreMetrics(ctx context.Context, metrics []models.Metric) error
	QueryMetrics(ctx context.Context, q MetricQuery) ([]models.Metric, error)
	LatestMetrics(ctx context.Context, deviceID string) ([]models.Metric, error)

	StoreRun(ctx context.Context, run models.PipelineRun) error
	GetRun(ctx context.Context, id string) (models.PipelineRun, error)
	ListRuns(ctx context.Context, deviceID string, limit int) ([]models.PipelineRun, error)

	UpsertAlert(ctx context.Context, alert models.Alert) error
	GetAlert(ctx context.Context, id string) (models.Alert, error)
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)

	UpsertIncident(ctx context.Context, incident models.Incident) error
	GetIncident(ctx context.Context, id string) (models.Incident, error)
	ListIncidents(ctx context.Context, status models.IncidentStatus, limit int) ([]models.Incident, error)

	StoreHotspots(ctx context.Context, hotspots []models.Hotspot) error
	Hotspots(ctx context.Context) ([]models.Hotspot, error)

	// Prune deletes records older than their retention age at now.
	Prune(ctx context.Context, now time.Time, keep config.RetentionConfig) (PruneResult, error)

	Close() error
}

// PruneResult counts the records one Prune call deleted.
type PruneResult struct {
	Metrics int64
	Runs    int64
	Alerts  int64
}

// Total returns the number of deleted records.
func (r PruneResult) Total() int64 { return r.Metrics + r.Runs + r.Alerts }

// cutoff returns now-age, or the zero time when age keeps records forever.
func cutoff(now time.Time, age time.Duration) time.Time {
	if age <= 0 {
		return time.Time{}
	}
	return now.Add(-age)
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemoryStore(0), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

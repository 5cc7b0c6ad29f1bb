package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

var storeBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore(0) },
		"sqlite": func() Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "netops.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			t.Cleanup(func() { _ = s.Close() })
			t.Run("metrics", func(t *testing.T) { testStoreMetrics(t, s) })
			t.Run("runs", func(t *testing.T) { testStoreRuns(t, s) })
			t.Run("alerts", func(t *testing.T) { testStoreAlerts(t, s) })
			t.Run("incidents", func(t *testing.T) { testStoreIncidents(t, s) })
			t.Run("hotspots", func(t *testing.T) { testStoreHotspots(t, s) })
		})
	}
}

func testStoreMetrics(t *testing.T, s Store) {
	ctx := context.Background()
	var batch []models.Metric
	for i := 0; i < 5; i++ {
		batch = append(batch, models.Metric{
			DeviceID:  "r1",
			Variable:  "cpu_usage",
			Type:      models.MetricGauge,
			Value:     float64(10 * (i + 1)),
			Unit:      "%",
			Timestamp: storeBase.Add(time.Duration(i) * time.Minute),
		})
	}
	batch = append(batch, models.Metric{
		DeviceID:  "r1",
		Variable:  "crc_errors",
		Type:      models.MetricCounter,
		Value:     7,
		Labels:    map[string]string{"interface": "Gi0/1"},
		Timestamp: storeBase,
	})
	batch = append(batch, models.Metric{DeviceID: "r2", Variable: "cpu_usage", Type: models.MetricGauge, Value: 99, Timestamp: storeBase})
	require.NoError(t, s.StoreMetrics(ctx, batch))

	got, err := s.QueryMetrics(ctx, MetricQuery{DeviceID: "r1", Variable: "cpu_usage"})
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, 10.0, got[0].Value)
	require.Equal(t, 50.0, got[4].Value)

	limited, err := s.QueryMetrics(ctx, MetricQuery{DeviceID: "r1", Variable: "cpu_usage", Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, 40.0, limited[0].Value)
	require.Equal(t, 50.0, limited[1].Value)

	ranged, err := s.QueryMetrics(ctx, MetricQuery{
		DeviceID: "r1",
		Variable: "cpu_usage",
		From:     storeBase.Add(time.Minute),
		To:       storeBase.Add(3 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, ranged, 3)

	latest, err := s.LatestMetrics(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "cpu_usage", latest[0].Variable)
	require.Equal(t, 50.0, latest[0].Value)
	require.Equal(t, "crc_errors", latest[1].Variable)
	require.Equal(t, "Gi0/1", latest[1].Labels["interface"])
	require.True(t, latest[1].Timestamp.Equal(storeBase))
}

func testStoreRuns(t *testing.T, s Store) {
	ctx := context.Background()
	for i, id := range []string{"RUN-1", "RUN-2", "RUN-3"} {
		require.NoError(t, s.StoreRun(ctx, models.PipelineRun{
			ID:        id,
			DeviceID:  "r1",
			Status:    models.RunCompleted,
			StartedAt: storeBase.Add(time.Duration(i) * time.Minute),
			Stages:    []models.StageResult{{Stage: models.StageObserve, Status: models.StageSucceeded}},
		}))
	}
	require.NoError(t, s.StoreRun(ctx, models.PipelineRun{ID: "RUN-X", DeviceID: "r2", Status: models.RunFailed, StartedAt: storeBase}))

	run, err := s.GetRun(ctx, "RUN-2")
	require.NoError(t, err)
	require.Equal(t, models.RunCompleted, run.Status)
	require.Len(t, run.Stages, 1)

	_, err = s.GetRun(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound))

	runs, err := s.ListRuns(ctx, "r1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "RUN-3", runs[0].ID)
	require.Equal(t, "RUN-2", runs[1].ID)

	all, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
}

func testStoreAlerts(t *testing.T, s Store) {
	ctx := context.Background()
	alert := models.Alert{
		ID:          "ALT-1",
		Fingerprint: "fp1",
		DeviceID:    "r1",
		Severity:    models.SeverityCritical,
		Status:      models.AlertOpen,
		Occurrences: 1,
		CreatedAt:   storeBase,
	}
	require.NoError(t, s.UpsertAlert(ctx, alert))
	alert.Occurrences = 3
	alert.Status = models.AlertAcknowledged
	require.NoError(t, s.UpsertAlert(ctx, alert))
	require.NoError(t, s.UpsertAlert(ctx, models.Alert{ID: "ALT-2", Fingerprint: "fp2", DeviceID: "r2", Status: models.AlertOpen, CreatedAt: storeBase.Add(time.Minute)}))

	got, err := s.GetAlert(ctx, "ALT-1")
	require.NoError(t, err)
	require.Equal(t, 3, got.Occurrences)
	require.Equal(t, models.AlertAcknowledged, got.Status)

	list, err := s.ListAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "ALT-2", list[0].ID)

	_, err = s.GetAlert(ctx, "ALT-404")
	require.ErrorIs(t, err, ErrNotFound)
}

func testStoreIncidents(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertIncident(ctx, models.Incident{ID: "INC-1", Status: models.IncidentOpen, LastUpdate: storeBase, DeviceIDs: []string{"r1"}}))
	require.NoError(t, s.UpsertIncident(ctx, models.Incident{ID: "INC-2", Status: models.IncidentClosed, LastUpdate: storeBase.Add(time.Minute)}))

	open, err := s.ListIncidents(ctx, models.IncidentOpen, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "INC-1", open[0].ID)

	all, err := s.ListIncidents(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "INC-2", all[0].ID)

	inc, err := s.GetIncident(ctx, "INC-1")
	require.NoError(t, err)
	require.Equal(t, []string{"r1"}, inc.DeviceIDs)

	_, err = s.GetIncident(ctx, "INC-404")
	require.ErrorIs(t, err, ErrNotFound)
}

func testStoreHotspots(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.StoreHotspots(ctx, []models.Hotspot{
		{DeviceID: "r1", Incidents: 1, Prevalence: 0.25},
		{DeviceID: "r2", Incidents: 3, Prevalence: 0.75},
	}))
	require.NoError(t, s.StoreHotspots(ctx, []models.Hotspot{{DeviceID: "r1", Incidents: 4, Prevalence: 1}}))

	hotspots, err := s.Hotspots(ctx)
	require.NoError(t, err)
	require.Len(t, hotspots, 2)
	require.Equal(t, "r1", hotspots[0].DeviceID)
	require.Equal(t, 4, hotspots[0].Incidents)
	require.Equal(t, "r2", hotspots[1].DeviceID)
}

func TestStorePrune(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			t.Cleanup(func() { _ = s.Close() })
			ctx := context.Background()
			now := storeBase.Add(48 * time.Hour)

			require.NoError(t, s.StoreMetrics(ctx, []models.Metric{
				{DeviceID: "r1", Variable: "cpu_usage", Type: models.MetricGauge, Value: 1, Timestamp: storeBase},
				{DeviceID: "r1", Variable: "cpu_usage", Type: models.MetricGauge, Value: 2, Timestamp: now.Add(-time.Hour)},
				{DeviceID: "r2", Variable: "cpu_usage", Type: models.MetricGauge, Value: 3, Timestamp: storeBase.Add(time.Minute)},
			}))
			require.NoError(t, s.StoreRun(ctx, models.PipelineRun{ID: "PIPE-OLD", DeviceID: "r1", Status: models.RunCompleted, StartedAt: storeBase}))
			require.NoError(t, s.StoreRun(ctx, models.PipelineRun{ID: "PIPE-NEW", DeviceID: "r1", Status: models.RunCompleted, StartedAt: now.Add(-time.Hour)}))
			require.NoError(t, s.UpsertAlert(ctx, models.Alert{ID: "ALRT-DONE", Fingerprint: "a", DeviceID: "r1", Status: models.AlertResolved, CreatedAt: storeBase}))
			require.NoError(t, s.UpsertAlert(ctx, models.Alert{ID: "ALRT-OPEN", Fingerprint: "b", DeviceID: "r1", Status: models.AlertOpen, CreatedAt: storeBase}))

			res, err := s.Prune(ctx, now, config.RetentionConfig{Metrics: 24 * time.Hour, Runs: 24 * time.Hour, Alerts: 24 * time.Hour})
			require.NoError(t, err)
			require.Equal(t, PruneResult{Metrics: 2, Runs: 1, Alerts: 1}, res)
			require.Equal(t, int64(4), res.Total())

			metrics, err := s.QueryMetrics(ctx, MetricQuery{DeviceID: "r1"})
			require.NoError(t, err)
			require.Len(t, metrics, 1)
			require.Equal(t, 2.0, metrics[0].Value)
			_, err = s.GetRun(ctx, "PIPE-OLD")
			require.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetRun(ctx, "PIPE-NEW")
			require.NoError(t, err)
			_, err = s.GetAlert(ctx, "ALRT-DONE")
			require.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetAlert(ctx, "ALRT-OPEN")
			require.NoError(t, err, "open alerts are never pruned")

			res, err = s.Prune(ctx, now.Add(365*24*time.Hour), config.RetentionConfig{})
			require.NoError(t, err)
			require.Zero(t, res.Total(), "zero ages keep everything")
		})
	}
}

func TestMemoryStoreCapsPerDevice(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.StoreMetrics(ctx, []models.Metric{{DeviceID: "r1", Variable: "cpu_usage", Value: float64(i), Timestamp: storeBase.Add(time.Duration(i) * time.Second)}}))
	}
	got, err := s.QueryMetrics(ctx, MetricQuery{DeviceID: "r1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, 2.0, got[0].Value)
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "a", "netops.db")})
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "bolt"})
	require.Error(t, err)
}

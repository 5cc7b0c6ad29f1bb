package health

import (
	"testing"
	"time"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testScorer() *Scorer {
	return NewScorer(config.HealthConfig{
		Variables: map[string]config.HealthVariable{
			"cpu_usage":       {Weight: 0.5, Ideal: 0, Worst: 100},
			"memory_usage":    {Weight: 0.25, Ideal: 0, Worst: 100},
			"hardware_status": {Weight: 0.25, OKStates: []string{"ok"}},
		},
		FindingPenalty: true,
	})
}

func TestScoreWeightedDeviation(t *testing.T) {
	s := testScorer()
	snapshot := []models.Metric{
		{DeviceID: "r1", Variable: "cpu_usage", Type: models.MetricGauge, Value: 40},
		{DeviceID: "r1", Variable: "memory_usage", Type: models.MetricGauge, Value: 20},
		{DeviceID: "r1", Variable: "hardware_status", Type: models.MetricState, Text: "OK"},
		{DeviceID: "r1", Variable: "unweighted", Type: models.MetricGauge, Value: 1000},
	}

	got := s.Score("r1", snapshot, nil, now)
	// 100 * (1 - (0.5*0.4 + 0.25*0.2 + 0.25*0) / 1.0) = 75
	if got.Score != 75 {
		t.Fatalf("expected score 75, got %v", got.Score)
	}
	if got.Status != StatusWarning {
		t.Fatalf("expected warning status, got %s", got.Status)
	}

	again := s.Score("r1", snapshot, nil, now)
	if again.Score != got.Score {
		t.Fatalf("score not reproducible: %v vs %v", got.Score, again.Score)
	}
}

func TestScoreClampsAndPenalises(t *testing.T) {
	s := testScorer()
	snapshot := []models.Metric{
		{DeviceID: "r1", Variable: "cpu_usage", Value: 250},
		{DeviceID: "r1", Variable: "hardware_status", Type: models.MetricState, Text: "failed"},
	}
	findings := []models.Finding{{DeviceID: "r1", Variable: "memory_usage", Severity: models.SeverityCritical}}

	got := s.Score("r1", snapshot, findings, now)
	if got.Score != 0 {
		t.Fatalf("expected clamped score 0, got %v", got.Score)
	}
	if got.Status != StatusCritical {
		t.Fatalf("expected critical status, got %s", got.Status)
	}
}

func TestScoreWithoutDataIsPerfect(t *testing.T) {
	got := testScorer().Score("r1", nil, nil, now)
	if got.Score != 100 || got.Status != StatusHealthy {
		t.Fatalf("expected healthy 100, got %+v", got)
	}
}

func TestGroupWeightedAverage(t *testing.T) {
	s := testScorer()
	scores := []models.HealthScore{
		{DeviceID: "core1", Score: 90},
		{DeviceID: "edge1", Score: 60},
		{DeviceID: "edge2", Score: 30},
	}
	group := s.Group("site-a", scores, map[string]float64{"core1": 2})

	// (2*90 + 60 + 30) / 4 = 67.5
	if group.Score != 67.5 {
		t.Fatalf("expected weighted score 67.5, got %v", group.Score)
	}
	if group.Average != 60 || group.Min != 30 || group.Max != 90 {
		t.Fatalf("unexpected summary %+v", group)
	}
	if group.Distribution[StatusHealthy] != 1 || group.Distribution[StatusCritical] != 2 {
		t.Fatalf("unexpected distribution %v", group.Distribution)
	}
}

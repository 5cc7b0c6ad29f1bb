package detectors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/metrics"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func gaugeSeries(variable string, step time.Duration, values ...float64) Series {
	s := Series{DeviceID: "r1", Variable: variable, Type: models.MetricGauge}
	for i, v := range values {
		s.Points = append(s.Points, models.Metric{
			DeviceID:  "r1",
			Variable:  variable,
			Type:      models.MetricGauge,
			Value:     v,
			Timestamp: base.Add(time.Duration(i) * step),
		})
	}
	return s
}

func stateSeries(variable string, step time.Duration, states ...string) Series {
	s := Series{DeviceID: "r1", Variable: variable, Type: models.MetricState}
	for i, st := range states {
		s.Points = append(s.Points, models.Metric{
			DeviceID:  "r1",
			Variable:  variable,
			Type:      models.MetricState,
			Text:      st,
			Timestamp: base.Add(time.Duration(i) * step),
		})
	}
	return s
}

func cpuThresholds() map[string]config.ThresholdConfig {
	return map[string]config.ThresholdConfig{
		"cpu_usage": {
			ThresholdLevels: config.Levels(75, 90),
			Class:           "high_cpu",
			TagOverrides:    map[string]config.ThresholdLevels{"edge": config.Levels(60, 70)},
		},
	}
}

func TestThresholdClassification(t *testing.T) {
	det := NewThresholdDetector(cpuThresholds())

	cases := []struct {
		value float64
		want  models.Severity
	}{
		{50, ""},
		{75, models.SeverityWarning},
		{80, models.SeverityWarning},
		{90, models.SeverityCritical},
		{95, models.SeverityCritical},
	}
	for _, tc := range cases {
		out, err := det.Detect(gaugeSeries("cpu_usage", time.Minute, tc.value))
		require.NoError(t, err)
		if tc.want == "" {
			assert.Empty(t, out, "value %v", tc.value)
			continue
		}
		require.Len(t, out, 1, "value %v", tc.value)
		assert.Equal(t, tc.want, out[0].Severity)
		assert.Equal(t, "high_cpu", out[0].Class)
	}
}

func TestThresholdTagOverride(t *testing.T) {
	det := NewThresholdDetector(cpuThresholds())
	series := gaugeSeries("cpu_usage", time.Minute, 72)
	series.Tags = []string{"edge"}

	out, err := det.Detect(series)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.SeverityCritical, out[0].Severity)
	assert.Equal(t, 70.0, out[0].Threshold)
}

func TestThresholdZeroBoundIsExplicit(t *testing.T) {
	det := NewThresholdDetector(map[string]config.ThresholdConfig{
		"dropped_packets": {ThresholdLevels: config.ThresholdLevels{Warning: config.Bound(0)}, Class: "packet_loss"},
		"unset":           {Class: "nothing"},
	})

	out, err := det.Detect(gaugeSeries("dropped_packets", time.Minute, 0))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.SeverityWarning, out[0].Severity)
	assert.Zero(t, out[0].Threshold)

	out, err = det.Detect(gaugeSeries("dropped_packets", time.Minute, -1))
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = det.Detect(gaugeSeries("unset", time.Minute, 1))
	assert.Error(t, err)

	sev, _ := Classify(1000, positiveLevels(0, 0))
	assert.Empty(t, sev, "non-positive delta bounds stay disabled")
	sev, bound := Classify(12, positiveLevels(0, 10))
	assert.Equal(t, models.SeverityCritical, sev)
	assert.Equal(t, 10.0, bound)
}

func TestThresholdFindingIDIsStable(t *testing.T) {
	det := NewThresholdDetector(cpuThresholds())
	series := gaugeSeries("cpu_usage", time.Minute, 95)

	first, err := det.Detect(series)
	require.NoError(t, err)
	second, err := det.Detect(series)
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestAnomalySilentBeforeBaseline(t *testing.T) {
	det := NewAnomalyDetector(config.AnomalyConfig{Method: MethodZScore, MinBaselinePoints: 10})
	out, err := det.Detect(gaugeSeries("latency", time.Minute, 49, 51, 49, 51, 49, 51, 49, 51, 49, 500))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAnomalyMethodsFlagSpike(t *testing.T) {
	values := []float64{49, 51, 49, 51, 49, 51, 49, 51, 49, 51, 100}
	for _, method := range []string{MethodZScore, MethodMAD, MethodIQR, MethodEWMA} {
		t.Run(method, func(t *testing.T) {
			det := NewAnomalyDetector(config.AnomalyConfig{Method: method, MinBaselinePoints: 10})
			out, err := det.Detect(gaugeSeries("latency", time.Minute, values...))
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, models.SeverityCritical, out[0].Severity)
			assert.Equal(t, method, out[0].Metadata["method"])
			assert.Equal(t, "anomaly_latency", out[0].Class)
		})
	}
}

func TestAnomalyIgnoresNormalPoint(t *testing.T) {
	det := NewAnomalyDetector(config.AnomalyConfig{Method: MethodZScore, MinBaselinePoints: 10})
	out, err := det.Detect(gaugeSeries("latency", time.Minute, 49, 51, 49, 51, 49, 51, 49, 51, 49, 51, 50))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTrendForecast(t *testing.T) {
	det := NewTrendDetector(config.TrendConfig{MinPoints: 10, Horizon: 24 * time.Hour, CriticalHorizon: time.Hour}, cpuThresholds())

	fast := make([]float64, 10)
	slow := make([]float64, 10)
	flat := make([]float64, 10)
	for i := range fast {
		fast[i] = 50 + float64(i)
		slow[i] = 50 + 0.1*float64(i)
		flat[i] = 50
	}

	out, err := det.Detect(gaugeSeries("cpu_usage", time.Minute, fast...))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.SeverityCritical, out[0].Severity)
	assert.Equal(t, "1860", out[0].Metadata["eta_seconds"])

	out, err = det.Detect(gaugeSeries("cpu_usage", time.Minute, slow...))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.SeverityWarning, out[0].Severity)

	out, err = det.Detect(gaugeSeries("cpu_usage", time.Minute, flat...))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = det.Detect(gaugeSeries("cpu_usage", time.Minute, fast[:5]...))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFlapHysteresis(t *testing.T) {
	p := newFlapParams(config.FlapConfig{Threshold: 3, CriticalFactor: 2, Window: 5 * time.Minute, StabilityPeriod: 10 * time.Minute})
	states := []string{"up", "down", "up", "down", "up", "down", "up", "down"}
	points := statePoints(stateSeries("interface_status", 30*time.Second, states...))

	var fired []models.Severity
	for n := 2; n <= len(points); n++ {
		severity, _ := evaluateFlap(points[:n], p)
		fired = append(fired, severity)
	}
	// One warning at the third transition, one critical at the sixth, silence otherwise.
	assert.Equal(t, []models.Severity{"", "", models.SeverityWarning, "", "", models.SeverityCritical, ""}, fired)

	// After a quiet stability period the episode re-arms.
	quiet := points[len(points)-1].at.Add(11 * time.Minute)
	rearm := append([]statePoint(nil), points...)
	for i, st := range []string{"up", "down", "up"} {
		rearm = append(rearm, statePoint{at: quiet.Add(time.Duration(i) * 30 * time.Second), state: st})
	}
	severity, changes := evaluateFlap(rearm, p)
	assert.Equal(t, models.SeverityWarning, severity)
	assert.Equal(t, 3, changes)
}

func TestFlapDetectorClass(t *testing.T) {
	det := NewFlapDetector(config.FlapConfig{Threshold: 3}, []string{"bgp_neighbor_state"})
	out, err := det.Detect(stateSeries("interface_status", 30*time.Second, "up", "down", "up", "down"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "interface_flap", out[0].Class)

	out, err = det.Detect(stateSeries("bgp_neighbor_state", 30*time.Second, "up", "down", "up", "down"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func counterSeries(variable string, values ...float64) Series {
	s := gaugeSeries(variable, time.Minute, values...)
	s.Type = models.MetricCounter
	for i := range s.Points {
		s.Points[i].Type = models.MetricCounter
	}
	return s
}

func TestInterfaceErrorDelta(t *testing.T) {
	det := NewInterfaceErrorDetector(config.InterfaceErrorConfig{
		CRCWarning: 10, CRCCritical: 100, ErrorRateWarning: 1,
		CRCVariables: []string{"crc_errors"}, RateVariables: []string{"error_rate"},
	})

	out, err := det.Detect(counterSeries("crc_errors", 100, 150))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.SeverityWarning, out[0].Severity)
	assert.Equal(t, 50.0, out[0].Value)
	assert.Equal(t, "crc_errors", out[0].Class)

	out, err = det.Detect(counterSeries("crc_errors", 1000, 5))
	require.NoError(t, err)
	assert.Empty(t, out, "counter reset must not produce a finding")

	out, err = det.Detect(gaugeSeries("error_rate", time.Minute, 2.5))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.SeverityWarning, out[0].Severity)
}

func TestRoutingChurnAndNeighborFlap(t *testing.T) {
	det := NewRoutingDetector(config.RoutingConfig{
		ChurnWarning: 50, ChurnCritical: 500, Quantum: 100,
		RouteVariables:    []string{"route_count"},
		NeighborVariables: []string{"bgp_neighbor_state"},
	}, config.FlapConfig{Threshold: 3})

	out, err := det.Detect(gaugeSeries("route_count", time.Minute, 1000, 1600))
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, "route_churn", out[0].Class)
	assert.Equal(t, models.SeverityCritical, out[0].Severity)

	out, err = det.Detect(stateSeries("bgp_neighbor_state", 30*time.Second, "Established", "Idle", "Established", "Idle"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "bgp_flap", out[0].Class)
}

func evictionsExported(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "mirador_netops_window_evictions_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestWindowArena(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	exportedBefore := evictionsExported(t, reg)

	arena, err := NewWindowArena(1, 3)
	require.NoError(t, err)

	var series Series
	for i := 0; i < 5; i++ {
		series = arena.Observe(models.Metric{DeviceID: "r1", Variable: "cpu_usage", Type: models.MetricGauge, Value: float64(i), Timestamp: base.Add(time.Duration(i) * time.Minute)}, nil)
	}
	assert.Equal(t, []float64{2, 3, 4}, series.Values())

	series = arena.Observe(models.Metric{DeviceID: "r1", Variable: "cpu_usage", Value: 99, Timestamp: base}, nil)
	assert.Equal(t, []float64{2, 3, 4}, series.Values(), "out-of-order point is ignored")

	arena.Observe(models.Metric{DeviceID: "r2", Variable: "cpu_usage", Value: 1, Timestamp: base}, nil)
	assert.Equal(t, 1, arena.Len())
	assert.Equal(t, int64(1), arena.Evictions())
	assert.Equal(t, exportedBefore+1, evictionsExported(t, reg))
	_, ok := arena.Snapshot(WindowKey{DeviceID: "r1", Variable: "cpu_usage"})
	assert.False(t, ok)
}

type panicDetector struct{}

func (panicDetector) Kind() models.DetectorKind { return "broken" }
func (panicDetector) Detect(Series) ([]models.Finding, error) {
	panic("boom")
}

type failingDetector struct{}

func (failingDetector) Kind() models.DetectorKind { return "failing" }
func (failingDetector) Detect(Series) ([]models.Finding, error) {
	return nil, errors.New("bad input")
}

func TestSetIsolatesDetectorFailures(t *testing.T) {
	arena, err := NewWindowArena(10, 10)
	require.NoError(t, err)
	set := NewSetWith(arena, nil, panicDetector{}, failingDetector{}, NewThresholdDetector(cpuThresholds()))

	device := models.Device{ID: "r1"}
	metrics := []models.Metric{
		{DeviceID: "r1", Variable: "cpu_usage", Type: models.MetricGauge, Value: 95, Timestamp: base},
		{DeviceID: "r1", Variable: "memory_usage", Type: models.MetricGauge, Value: 10, Timestamp: base},
	}
	findings, errs := set.Analyze(context.Background(), device, metrics)
	require.Len(t, findings, 1)
	assert.Equal(t, models.SeverityCritical, findings[0].Severity)
	require.Len(t, errs, 4)
	for _, err := range errs {
		assert.Equal(t, utils.KindDetector, utils.KindOf(err))
	}
}

func TestNewSetHonoursEnabledFlags(t *testing.T) {
	set, err := NewSet(config.DetectorsConfig{
		Thresholds: cpuThresholds(),
		Anomaly:    config.AnomalyConfig{Enabled: true},
		Routing:    config.RoutingConfig{Enabled: true},
	}, nil)
	require.NoError(t, err)

	kinds := make([]models.DetectorKind, 0)
	for _, d := range set.Detectors() {
		kinds = append(kinds, d.Kind())
	}
	assert.Equal(t, []models.DetectorKind{models.DetectorThreshold, models.DetectorAnomaly, models.DetectorRoutingInstability}, kinds)
}

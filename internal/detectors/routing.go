package detectors

import (
	"fmt"
	"math"
	"strings"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// RoutingDetector watches route-table churn and routing neighbor flaps.
type RoutingDetector struct {
	cfg  config.RoutingConfig
	flap flapParams
}

// NewRoutingDetector builds a routing instability detector.
func NewRoutingDetector(cfg config.RoutingConfig, flap config.FlapConfig) *RoutingDetector {
	if cfg.Quantum <= 0 {
		cfg.Quantum = 100
	}
	return &RoutingDetector{cfg: cfg, flap: newFlapParams(flap)}
}

// Kind implements Detector.
func (d *RoutingDetector) Kind() models.DetectorKind { return models.DetectorRoutingInstability }

// Detect implements Detector.
func (d *RoutingDetector) Detect(series Series) ([]models.Finding, error) {
	switch {
	case contains(d.cfg.RouteVariables, series.Variable) && series.Type != models.MetricState:
		return d.routeTable(series), nil
	case contains(d.cfg.NeighborVariables, series.Variable) && series.Type == models.MetricState:
		return d.neighbor(series), nil
	}
	return nil, nil
}

func (d *RoutingDetector) routeTable(series Series) []models.Finding {
	point, ok := series.Latest()
	if !ok {
		return nil
	}
	var findings []models.Finding

	if n := len(series.Points); n >= 2 {
		churn := math.Abs(point.Value - series.Points[n-2].Value)
		levels := positiveLevels(d.cfg.ChurnWarning, d.cfg.ChurnCritical)
		if severity, bound := Classify(churn, levels); severity != "" {
			f := newFinding(d.Kind(), "route_churn", series, point, severity)
			f.Value = churn
			f.Threshold = bound
			f.Baseline = series.Points[n-2].Value
			f.Confidence = 1
			f.Message = fmt.Sprintf("%s %s changed by %s routes since last poll", series.DeviceID, series.Key(), formatFloat(churn))
			findings = append(findings, f)
		}
	}

	// Route counts are quantised so that small fluctuations do not count as transitions.
	points := make([]statePoint, 0, len(series.Points))
	for _, p := range series.Points {
		q := math.Floor(p.Value/d.cfg.Quantum) * d.cfg.Quantum
		points = append(points, statePoint{at: p.Timestamp, state: series.Key() + ":" + formatFloat(q)})
	}
	if severity, changes := evaluateFlap(points, d.flap); severity != "" {
		findings = append(findings, flapFinding(d.Kind(), "route_table_flap", series, point, severity, changes, d.flap))
	}
	return findings
}

func (d *RoutingDetector) neighbor(series Series) []models.Finding {
	severity, changes := evaluateFlap(statePoints(series), d.flap)
	if severity == "" {
		return nil
	}
	point, _ := series.Latest()
	protocol := series.Variable
	if idx := strings.Index(protocol, "_"); idx > 0 {
		protocol = protocol[:idx]
	}
	return []models.Finding{flapFinding(d.Kind(), protocol+"_flap", series, point, severity, changes, d.flap)}
}

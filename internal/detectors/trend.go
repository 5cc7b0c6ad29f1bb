package detectors

import (
	"fmt"
	"time"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// TrendDetector fits a line over the window and forecasts when the target is crossed.
type TrendDetector struct {
	cfg     config.TrendConfig
	targets map[string]float64
}

// NewTrendDetector builds a trend detector. Variables without an explicit target
// fall back to the critical threshold from thresholds.
func NewTrendDetector(cfg config.TrendConfig, thresholds map[string]config.ThresholdConfig) *TrendDetector {
	if cfg.MinPoints < 2 {
		cfg.MinPoints = 10
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 24 * time.Hour
	}
	targets := make(map[string]float64, len(cfg.Targets)+len(thresholds))
	for name, th := range thresholds {
		if th.Critical != nil {
			targets[name] = *th.Critical
		}
	}
	for name, target := range cfg.Targets {
		targets[name] = target
	}
	return &TrendDetector{cfg: cfg, targets: targets}
}

// Kind implements Detector.
func (d *TrendDetector) Kind() models.DetectorKind { return models.DetectorTrend }

// Detect implements Detector.
func (d *TrendDetector) Detect(series Series) ([]models.Finding, error) {
	target, ok := d.targets[series.Variable]
	if !ok || series.Type != models.MetricGauge || len(series.Points) < d.cfg.MinPoints {
		return nil, nil
	}
	point, _ := series.Latest()
	if point.Value >= target {
		// Already past the target; the threshold detector owns this case.
		return nil, nil
	}

	origin := series.Points[0].Timestamp
	xs := make([]float64, 0, len(series.Points))
	ys := make([]float64, 0, len(series.Points))
	for _, p := range series.Points {
		xs = append(xs, p.Timestamp.Sub(origin).Seconds())
		ys = append(ys, p.Value)
	}
	fit, ok := linearRegression(xs, ys)
	if !ok || fit.slope <= 0 {
		return nil, nil
	}

	crossAt := (target - fit.intercept) / fit.slope
	eta := time.Duration((crossAt - xs[len(xs)-1]) * float64(time.Second))
	if eta < 0 || eta >= d.cfg.Horizon {
		return nil, nil
	}

	severity := models.SeverityWarning
	if d.cfg.CriticalHorizon > 0 && eta < d.cfg.CriticalHorizon {
		severity = models.SeverityCritical
	}
	finding := newFinding(d.Kind(), "trend_"+series.Variable, series, point, severity)
	finding.Threshold = target
	finding.Baseline = fit.intercept
	finding.Confidence = fit.r2
	finding.Message = fmt.Sprintf("%s %s forecast to reach %s in %s",
		series.DeviceID, series.Key(), formatFloat(target), eta.Round(time.Second))
	finding.Metadata = map[string]string{
		"eta_seconds": formatFloat(eta.Round(time.Second).Seconds()),
		"slope":       formatFloat(fit.slope),
		"r2":          formatFloat(fit.r2),
	}
	return []models.Finding{finding}, nil
}

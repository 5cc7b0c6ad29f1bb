package detectors

import (
	"fmt"
	"math"
	"strings"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// Anomaly scoring methods.
const (
	MethodZScore = "zscore"
	MethodMAD    = "mad"
	MethodIQR    = "iqr"
	MethodEWMA   = "ewma"
)

const minSpread = 0.001

// AnomalyDetector scores the latest point against the rest of the window.
type AnomalyDetector struct {
	cfg config.AnomalyConfig
}

// NewAnomalyDetector builds an anomaly detector, filling unset fields with defaults.
func NewAnomalyDetector(cfg config.AnomalyConfig) *AnomalyDetector {
	if cfg.Method == "" {
		cfg.Method = MethodZScore
	}
	cfg.Method = strings.ToLower(cfg.Method)
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3.0
	}
	if cfg.CriticalFactor <= 1 {
		cfg.CriticalFactor = 1.5
	}
	if cfg.MinBaselinePoints <= 0 {
		cfg.MinBaselinePoints = 10
	}
	if cfg.EWMAAlpha <= 0 || cfg.EWMAAlpha > 1 {
		cfg.EWMAAlpha = 0.3
	}
	return &AnomalyDetector{cfg: cfg}
}

// Kind implements Detector.
func (d *AnomalyDetector) Kind() models.DetectorKind { return models.DetectorAnomaly }

// Detect implements Detector. Nothing is emitted until the baseline holds
// MinBaselinePoints samples, however extreme the latest value is.
func (d *AnomalyDetector) Detect(series Series) ([]models.Finding, error) {
	if series.Type != models.MetricGauge {
		return nil, nil
	}
	if len(d.cfg.Variables) > 0 && !contains(d.cfg.Variables, series.Variable) {
		return nil, nil
	}
	point, ok := series.Latest()
	if !ok {
		return nil, nil
	}
	values := series.Values()
	baseline := values[:len(values)-1]
	if len(baseline) < d.cfg.MinBaselinePoints {
		return nil, nil
	}

	score, center, err := d.score(baseline, point.Value)
	if err != nil {
		return nil, err
	}

	var severity models.Severity
	switch {
	case score >= d.cfg.Threshold*d.cfg.CriticalFactor:
		severity = models.SeverityCritical
	case score >= d.cfg.Threshold:
		severity = models.SeverityWarning
	default:
		return nil, nil
	}

	finding := newFinding(d.Kind(), "anomaly_"+series.Variable, series, point, severity)
	finding.Baseline = center
	finding.Threshold = d.cfg.Threshold
	finding.Confidence = math.Min(1, float64(len(values))/100)
	finding.Message = fmt.Sprintf("%s %s=%s deviates from baseline %s (%s score %.2f)",
		series.DeviceID, series.Key(), formatFloat(point.Value), formatFloat(center), d.cfg.Method, score)
	finding.Metadata = map[string]string{
		"method": d.cfg.Method,
		"score":  formatFloat(math.Round(score*1000) / 1000),
	}
	return []models.Finding{finding}, nil
}

// score returns the deviation score of v and the baseline centre it was measured from.
func (d *AnomalyDetector) score(baseline []float64, v float64) (float64, float64, error) {
	switch d.cfg.Method {
	case MethodZScore:
		mu := mean(baseline)
		sd := sampleStdDev(baseline, mu)
		if sd == 0 {
			sd = minSpread
		}
		return math.Abs(v-mu) / sd, mu, nil
	case MethodMAD:
		med := median(baseline)
		mad := medianAbsoluteDeviation(baseline, med)
		if mad == 0 {
			mad = minSpread
		}
		return math.Abs(0.6745 * (v - med) / mad), med, nil
	case MethodIQR:
		q1, q3 := quartiles(baseline)
		iqr := q3 - q1
		if iqr == 0 {
			iqr = minSpread
		}
		lower, upper := q1-1.5*iqr, q3+1.5*iqr
		center := (q1 + q3) / 2
		switch {
		case v > upper:
			return d.cfg.Threshold + (v-upper)/iqr, center, nil
		case v < lower:
			return d.cfg.Threshold + (lower-v)/iqr, center, nil
		}
		return 0, center, nil
	case MethodEWMA:
		level, spread := ewma(baseline, d.cfg.EWMAAlpha)
		if spread == 0 {
			spread = minSpread
		}
		return math.Abs(v-level) / spread, level, nil
	}
	return 0, 0, fmt.Errorf("anomaly: unknown method %q", d.cfg.Method)
}

// ewma folds values into an exponentially weighted level and returns it with
// the sample deviation of the one-step prediction residuals.
func ewma(values []float64, alpha float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	level := values[0]
	residuals := make([]float64, 0, len(values)-1)
	for _, v := range values[1:] {
		residuals = append(residuals, v-level)
		level = alpha*v + (1-alpha)*level
	}
	return level, sampleStdDev(residuals, mean(residuals))
}

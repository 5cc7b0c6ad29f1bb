package detectors

import (
	"fmt"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// InterfaceErrorDetector checks per-interval error counter deltas and error rates.
type InterfaceErrorDetector struct {
	cfg config.InterfaceErrorConfig
}

// NewInterfaceErrorDetector builds an interface error detector.
func NewInterfaceErrorDetector(cfg config.InterfaceErrorConfig) *InterfaceErrorDetector {
	return &InterfaceErrorDetector{cfg: cfg}
}

// Kind implements Detector.
func (d *InterfaceErrorDetector) Kind() models.DetectorKind { return models.DetectorInterfaceError }

// Detect implements Detector.
func (d *InterfaceErrorDetector) Detect(series Series) ([]models.Finding, error) {
	switch {
	case contains(d.cfg.CRCVariables, series.Variable):
		return d.deltaFinding(series, "crc_errors", positiveLevels(d.cfg.CRCWarning, d.cfg.CRCCritical))
	case contains(d.cfg.ErrorVariables, series.Variable):
		return d.deltaFinding(series, "interface_errors", positiveLevels(d.cfg.ErrorWarning, d.cfg.ErrorCritical))
	case contains(d.cfg.RateVariables, series.Variable):
		return d.rateFinding(series)
	}
	return nil, nil
}

func (d *InterfaceErrorDetector) deltaFinding(series Series, class string, levels config.ThresholdLevels) ([]models.Finding, error) {
	delta, ok := counterDelta(series)
	if !ok {
		return nil, nil
	}
	severity, bound := Classify(delta, levels)
	if severity == "" {
		return nil, nil
	}
	point, _ := series.Latest()
	finding := newFinding(d.Kind(), class, series, point, severity)
	finding.Value = delta
	finding.Threshold = bound
	finding.Confidence = 1
	finding.Message = fmt.Sprintf("%s %s increased by %s since last poll", series.DeviceID, series.Key(), formatFloat(delta))
	finding.Metadata = map[string]string{"counter": formatFloat(point.Value)}
	return []models.Finding{finding}, nil
}

func (d *InterfaceErrorDetector) rateFinding(series Series) ([]models.Finding, error) {
	point, ok := series.Latest()
	if !ok || d.cfg.ErrorRateWarning <= 0 || point.Value <= d.cfg.ErrorRateWarning {
		return nil, nil
	}
	finding := newFinding(d.Kind(), "interface_error_rate", series, point, models.SeverityWarning)
	finding.Threshold = d.cfg.ErrorRateWarning
	finding.Confidence = 1
	finding.Message = fmt.Sprintf("%s %s error rate %s%% above %s%%",
		series.DeviceID, series.Key(), formatFloat(point.Value), formatFloat(d.cfg.ErrorRateWarning))
	return []models.Finding{finding}, nil
}

// counterDelta returns the increase between the last two samples.
// A decrease means the counter was reset and yields no delta.
func counterDelta(series Series) (float64, bool) {
	n := len(series.Points)
	if n < 2 {
		return 0, false
	}
	prev, curr := series.Points[n-2].Value, series.Points[n-1].Value
	if curr < prev {
		return 0, false
	}
	return curr - prev, true
}

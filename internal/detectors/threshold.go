package detectors

import (
	"fmt"
	"sort"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

// ThresholdDetector compares the latest value against warning and critical bounds.
type ThresholdDetector struct {
	thresholds map[string]config.ThresholdConfig
}

// NewThresholdDetector builds a detector from per-variable thresholds.
func NewThresholdDetector(thresholds map[string]config.ThresholdConfig) *ThresholdDetector {
	return &ThresholdDetector{thresholds: thresholds}
}

// Kind implements Detector.
func (d *ThresholdDetector) Kind() models.DetectorKind { return models.DetectorThreshold }

// Detect implements Detector.
func (d *ThresholdDetector) Detect(series Series) ([]models.Finding, error) {
	cfg, ok := d.thresholds[series.Variable]
	if !ok || series.Type == models.MetricState {
		return nil, nil
	}
	point, ok := series.Latest()
	if !ok {
		return nil, nil
	}

	levels := resolveLevels(cfg, series.Tags)
	if levels.Empty() {
		return nil, fmt.Errorf("threshold %s: no levels configured", series.Variable)
	}

	severity, bound := Classify(point.Value, levels)
	if severity == "" {
		return nil, nil
	}
	finding := newFinding(d.Kind(), cfg.Class, series, point, severity)
	finding.Threshold = bound
	if levels.Warning != nil {
		finding.Baseline = *levels.Warning
	}
	finding.Confidence = 1
	finding.Message = fmt.Sprintf("%s %s=%s reached %s threshold %s",
		series.DeviceID, series.Key(), formatFloat(point.Value), severity, formatFloat(bound))
	return []models.Finding{finding}, nil
}

// Classify returns critical when v >= critical, warning when v >= warning, else "".
// Unset bounds never match.
func Classify(v float64, levels config.ThresholdLevels) (models.Severity, float64) {
	if levels.Critical != nil && v >= *levels.Critical {
		return models.SeverityCritical, *levels.Critical
	}
	if levels.Warning != nil && v >= *levels.Warning {
		return models.SeverityWarning, *levels.Warning
	}
	return "", 0
}

// positiveLevels sets only the positive bounds; counter-delta settings use zero to
// disable a level.
func positiveLevels(warning, critical float64) config.ThresholdLevels {
	var levels config.ThresholdLevels
	if warning > 0 {
		levels.Warning = config.Bound(warning)
	}
	if critical > 0 {
		levels.Critical = config.Bound(critical)
	}
	return levels
}

// resolveLevels applies the first matching tag override in sorted tag order.
func resolveLevels(cfg config.ThresholdConfig, tags []string) config.ThresholdLevels {
	if len(cfg.TagOverrides) == 0 || len(tags) == 0 {
		return cfg.ThresholdLevels
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	for _, tag := range sorted {
		if override, ok := cfg.TagOverrides[tag]; ok {
			return override
		}
	}
	return cfg.ThresholdLevels
}

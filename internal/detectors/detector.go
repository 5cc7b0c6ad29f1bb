package detectors

import (
	"fmt"
	"strconv"

	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// Series is the rolling history of one (device, variable, subject) stream, oldest first.
type Series struct {
	DeviceID string
	Variable string
	Subject  string
	Type     models.MetricType
	Tags     []string
	Points   []models.Metric
}

// Latest returns the newest point.
func (s Series) Latest() (models.Metric, bool) {
	if len(s.Points) == 0 {
		return models.Metric{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Values returns the numeric values of all points.
func (s Series) Values() []float64 {
	out := make([]float64, 0, len(s.Points))
	for _, p := range s.Points {
		out = append(out, p.Value)
	}
	return out
}

// Key returns the subject-qualified variable.
func (s Series) Key() string {
	return models.QualifyVariable(s.Variable, s.Subject)
}

// Detector turns one metric stream into zero or more findings.
type Detector interface {
	Kind() models.DetectorKind
	Detect(series Series) ([]models.Finding, error)
}

// newFinding builds a finding anchored on the latest observation of series.
// The id is derived from the inputs so reruns over the same series agree.
func newFinding(kind models.DetectorKind, class string, series Series, point models.Metric, severity models.Severity) models.Finding {
	key := fmt.Sprintf("%s|%s|%s|%s|%d", series.DeviceID, series.Key(), kind, class, point.Timestamp.UnixNano())
	if class == "" {
		class = string(kind)
	}
	return models.Finding{
		ID:        utils.StableID("FND", key),
		DeviceID:  series.DeviceID,
		Variable:  series.Variable,
		Subject:   series.Subject,
		Detector:  kind,
		Class:     class,
		Severity:  severity,
		Value:     point.Value,
		Timestamp: point.Timestamp,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

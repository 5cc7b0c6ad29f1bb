package models

import "time"

// Severity captures impact levels.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// DetectorKind names the detector that produced a finding.
type DetectorKind string

const (
	DetectorThreshold          DetectorKind = "threshold"
	DetectorAnomaly            DetectorKind = "anomaly"
	DetectorTrend              DetectorKind = "trend"
	DetectorFlap               DetectorKind = "flap"
	DetectorInterfaceError     DetectorKind = "interface_error"
	DetectorRoutingInstability DetectorKind = "routing_instability"
)

// Finding is one detector verdict on one metric observation.
type Finding struct {
	ID         string            `json:"id"`
	DeviceID   string            `json:"device_id"`
	Variable   string            `json:"variable"`
	Subject    string            `json:"subject,omitempty"`
	Detector   DetectorKind      `json:"detector"`
	Class      string            `json:"class"`
	Severity   Severity          `json:"severity"`
	Value      float64           `json:"value"`
	Baseline   float64           `json:"baseline"`
	Threshold  float64           `json:"threshold"`
	Confidence float64           `json:"confidence"`
	Message    string            `json:"message,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Key returns the subject-qualified variable used for dedup.
func (f Finding) Key() string {
	return QualifyVariable(f.Variable, f.Subject)
}

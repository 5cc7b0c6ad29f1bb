package models

import (
	"sort"
	"strings"
	"time"
)

// MetricType classifies how a variable's values evolve.
type MetricType string

const (
	MetricGauge   MetricType = "gauge"
	MetricCounter MetricType = "counter"
	MetricState   MetricType = "state"
)

// Valid reports whether t is a known metric type.
func (t MetricType) Valid() bool {
	switch t {
	case MetricGauge, MetricCounter, MetricState:
		return true
	}
	return false
}

// Metric is a single normalized observation.
type Metric struct {
	DeviceID  string            `json:"device_id"`
	Variable  string            `json:"variable"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Text      string            `json:"text,omitempty"`
	Unit      string            `json:"unit,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Subject returns a stable rendering of the metric labels, e.g. "interface=Gi0/1".
func (m Metric) Subject() string {
	if len(m.Labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m.Labels))
	for k := range m.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m.Labels[k])
	}
	return strings.Join(parts, ",")
}

// Key returns the variable qualified by its subject, e.g. "crc_errors{interface=Gi0/1}".
func (m Metric) Key() string {
	return QualifyVariable(m.Variable, m.Subject())
}

// QualifyVariable joins a variable name and a label subject.
func QualifyVariable(variable, subject string) string {
	if subject == "" {
		return variable
	}
	return variable + "{" + subject + "}"
}

// CollectResult holds raw command output for one device run.
type CollectResult struct {
	Outputs map[string]string `json:"outputs"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Usable reports whether at least one command produced output.
func (r CollectResult) Usable() bool {
	for _, out := range r.Outputs {
		if strings.TrimSpace(out) != "" {
			return true
		}
	}
	return false
}

package models

import (
	"strings"
	"time"
)

// SuppressionFilter selects alerts by device tags, device ids, variables and severity.
// Empty fields match everything.
type SuppressionFilter struct {
	Tags       []string   `yaml:"tags" json:"tags,omitempty"`
	Devices    []string   `yaml:"devices" json:"devices,omitempty"`
	Variables  []string   `yaml:"variables" json:"variables,omitempty"`
	Severities []Severity `yaml:"severities" json:"severities,omitempty"`
}

// Silence suppresses matching alerts, optionally bounded in time.
type Silence struct {
	ID                string    `yaml:"id" json:"id"`
	SuppressionFilter `yaml:",inline"`
	Start             time.Time `yaml:"start" json:"start,omitempty"`
	End               time.Time `yaml:"end" json:"end,omitempty"`
	Reason            string    `yaml:"reason" json:"reason,omitempty"`
	Creator           string    `yaml:"creator" json:"creator,omitempty"`
}

// ActiveAt reports whether the silence applies at t. Zero bounds are open-ended.
func (s Silence) ActiveAt(t time.Time) bool {
	if !s.Start.IsZero() && t.Before(s.Start) {
		return false
	}
	if !s.End.IsZero() && !t.Before(s.End) {
		return false
	}
	return true
}

// MaintenanceWindow suppresses matching alerts between Start and End.
type MaintenanceWindow struct {
	ID                string    `yaml:"id" json:"id"`
	SuppressionFilter `yaml:",inline"`
	Start             time.Time `yaml:"start" json:"start"`
	End               time.Time `yaml:"end" json:"end"`
	Reason            string    `yaml:"reason" json:"reason,omitempty"`
	Creator           string    `yaml:"creator" json:"creator,omitempty"`
}

// ActiveAt reports whether t falls in [Start, End).
func (w MaintenanceWindow) ActiveAt(t time.Time) bool {
	if w.Start.IsZero() || w.End.IsZero() {
		return false
	}
	return !t.Before(w.Start) && t.Before(w.End)
}

// RouteMatch filters signals for a routing rule. Empty fields match everything.
type RouteMatch struct {
	Tags       []string   `yaml:"tags" json:"tags,omitempty"`
	Devices    []string   `yaml:"devices" json:"devices,omitempty"`
	Variables  []string   `yaml:"variables" json:"variables,omitempty"`
	Classes    []string   `yaml:"classes" json:"classes,omitempty"`
	Severities []Severity `yaml:"severities" json:"severities,omitempty"`
}

// RoutingRule maps matching alerts to a contact group and channels.
type RoutingRule struct {
	ID           string     `yaml:"id" json:"id"`
	Priority     int        `yaml:"priority" json:"priority"`
	Match        RouteMatch `yaml:"match" json:"match"`
	ContactGroup string     `yaml:"contact_group" json:"contact_group"`
	Channels     []string   `yaml:"channels" json:"channels"`
}

// EscalationPolicy promotes alerts that stay unacknowledged or keep recurring.
type EscalationPolicy struct {
	ID           string        `yaml:"id" json:"id"`
	Severities   []Severity    `yaml:"severities" json:"severities,omitempty"`
	UnackedFor   time.Duration `yaml:"unacked_for" json:"unacked_for,omitempty"`
	RepeatCount  int           `yaml:"repeat_count" json:"repeat_count,omitempty"`
	RepeatWithin time.Duration `yaml:"repeat_within" json:"repeat_within,omitempty"`
	Level        int           `yaml:"level" json:"level"`
	ContactGroup string        `yaml:"contact_group" json:"contact_group"`
	Channels     []string      `yaml:"channels" json:"channels"`
}

// AppliesTo reports whether the policy covers severity.
func (p EscalationPolicy) AppliesTo(severity Severity) bool {
	return len(p.Severities) == 0 || ContainsSeverity(p.Severities, severity)
}

// CorrelationRule joins findings on the same variable across several devices.
type CorrelationRule struct {
	ID         string   `yaml:"id" json:"id"`
	Variable   string   `yaml:"variable" json:"variable"`
	MinDevices int      `yaml:"min_devices" json:"min_devices"`
	Severity   Severity `yaml:"severity" json:"severity,omitempty"`
}

// ContainsSeverity reports whether list holds s.
func ContainsSeverity(list []Severity, s Severity) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// ContainsFold reports whether list holds value, ignoring case.
func ContainsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

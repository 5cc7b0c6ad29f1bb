package models

import "time"

// IncidentStatus tracks whether an incident still absorbs findings.
type IncidentStatus string

const (
	IncidentOpen   IncidentStatus = "open"
	IncidentClosed IncidentStatus = "closed"
)

// Correlation rule identifiers for incidents formed without a configured rule.
const (
	RuleSameDevice = "same_device"
	RuleDependency = "dependency"
)

// Incident is a correlated cluster of findings believed to share a root cause.
type Incident struct {
	ID                string         `json:"id"`
	FindingIDs        []string       `json:"finding_ids"`
	DeviceIDs         []string       `json:"device_ids"`
	Variables         []string       `json:"variables,omitempty"`
	Start             time.Time      `json:"start"`
	End               time.Time      `json:"end"`
	LastUpdate        time.Time      `json:"last_update"`
	Status            IncidentStatus `json:"status"`
	RootCauseDeviceID string         `json:"root_cause_device_id,omitempty"`
	RuleID            string         `json:"rule_id"`
	Confidence        float64        `json:"confidence"`
	Severity          Severity       `json:"severity"`
	ImpactChain       []string       `json:"impact_chain,omitempty"`
	ClosedAt          time.Time      `json:"closed_at,omitempty"`
}

// Hotspot aggregates how often a device took part in incidents.
type Hotspot struct {
	DeviceID     string    `json:"device_id"`
	Incidents    int       `json:"incidents"`
	RootCauses   int       `json:"root_causes"`
	Prevalence   float64   `json:"prevalence"`
	TopVariables []string  `json:"top_variables,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
}

package models

import "time"

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertEscalated    AlertStatus = "escalated"
	AlertResolved     AlertStatus = "resolved"
	AlertSuppressed   AlertStatus = "suppressed"
)

// Terminal reports whether no further transition is allowed.
func (s AlertStatus) Terminal() bool {
	return s == AlertResolved || s == AlertSuppressed
}

// SourceKind identifies what produced an alert.
type SourceKind string

const (
	SourceFinding  SourceKind = "finding"
	SourceIncident SourceKind = "incident"
	SourceDevice   SourceKind = "device"
)

// DeliveryStatus records the outcome of outbound notification.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliverySkipped   DeliveryStatus = "skipped"
)

// ResolutionType records how an alert was resolved.
type ResolutionType string

const (
	ResolutionAuto   ResolutionType = "auto"
	ResolutionManual ResolutionType = "manual"
)

// RoutingDecision is the contact group and channel set chosen for an alert.
type RoutingDecision struct {
	RuleID       string   `json:"rule_id,omitempty" yaml:"rule_id"`
	ContactGroup string   `json:"contact_group" yaml:"contact_group"`
	Channels     []string `json:"channels" yaml:"channels"`
}

// AlertEvent is one entry of an alert's append-only history.
type AlertEvent struct {
	At     time.Time   `json:"at"`
	Action string      `json:"action"`
	From   AlertStatus `json:"from,omitempty"`
	To     AlertStatus `json:"to,omitempty"`
	Actor  string      `json:"actor,omitempty"`
	Note   string      `json:"note,omitempty"`
}

// Alert is a governed, deduplicated notification unit.
type Alert struct {
	ID                string          `json:"id"`
	Fingerprint       string          `json:"fingerprint"`
	Source            SourceKind      `json:"source"`
	SourceID          string          `json:"source_id"`
	DeviceID          string          `json:"device_id"`
	Variable          string          `json:"variable"`
	Class             string          `json:"class"`
	Severity          Severity        `json:"severity"`
	Message           string          `json:"message"`
	Tags              []string        `json:"tags,omitempty"`
	Status            AlertStatus     `json:"status"`
	EscalationLevel   int             `json:"escalation_level"`
	FiredPolicies     []string        `json:"fired_policies,omitempty"`
	Occurrences       int             `json:"occurrences"`
	Routing           RoutingDecision `json:"routing"`
	Delivery          DeliveryStatus  `json:"delivery"`
	DeliveryAttempts  int             `json:"delivery_attempts"`
	LastDeliveryError string          `json:"last_delivery_error,omitempty"`
	SuppressedBy      string          `json:"suppressed_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	LastSeenAt        time.Time       `json:"last_seen_at"`
	CooldownUntil     time.Time       `json:"cooldown_until"`
	AckedAt           time.Time       `json:"acked_at,omitempty"`
	AckedBy           string          `json:"acked_by,omitempty"`
	ResolvedAt        time.Time       `json:"resolved_at,omitempty"`
	Resolution        ResolutionType  `json:"resolution,omitempty"`
	Notes             []string        `json:"notes,omitempty"`
	History           []AlertEvent    `json:"history"`
}

// Clone returns a deep copy safe to hand outside the alert table lock.
func (a Alert) Clone() Alert {
	out := a
	out.Tags = append([]string(nil), a.Tags...)
	out.FiredPolicies = append([]string(nil), a.FiredPolicies...)
	out.Routing.Channels = append([]string(nil), a.Routing.Channels...)
	out.Notes = append([]string(nil), a.Notes...)
	out.History = append([]AlertEvent(nil), a.History...)
	return out
}

// DecisionKind is the outcome of processing a finding or incident.
type DecisionKind string

const (
	DecisionCreated      DecisionKind = "created"
	DecisionMerged       DecisionKind = "merged"
	DecisionSuppressed   DecisionKind = "suppressed"
	DecisionDeduplicated DecisionKind = "deduplicated"
)

// AlertDecision reports what the alerting engine did with one signal.
type AlertDecision struct {
	Kind      DecisionKind `json:"kind"`
	Alert     Alert        `json:"alert"`
	Delivered bool         `json:"delivered"`
}

// Notification is the payload handed to notification channels.
type Notification struct {
	AlertID         string      `json:"alert_id"`
	Fingerprint     string      `json:"fingerprint"`
	DeviceID        string      `json:"device_id"`
	Variable        string      `json:"variable"`
	Class           string      `json:"class"`
	Severity        Severity    `json:"severity"`
	Status          AlertStatus `json:"status"`
	Message         string      `json:"message"`
	EscalationLevel int         `json:"escalation_level"`
	Occurrences     int         `json:"occurrences"`
	ContactGroup    string      `json:"contact_group"`
	CreatedAt       time.Time   `json:"created_at"`
}

// NotificationFor builds the outbound payload for alert.
func NotificationFor(alert Alert) Notification {
	return Notification{
		AlertID:         alert.ID,
		Fingerprint:     alert.Fingerprint,
		DeviceID:        alert.DeviceID,
		Variable:        alert.Variable,
		Class:           alert.Class,
		Severity:        alert.Severity,
		Status:          alert.Status,
		Message:         alert.Message,
		EscalationLevel: alert.EscalationLevel,
		Occurrences:     alert.Occurrences,
		ContactGroup:    alert.Routing.ContactGroup,
		CreatedAt:       alert.CreatedAt,
	}
}

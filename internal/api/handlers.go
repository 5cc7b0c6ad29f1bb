package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-netops/internal/alerting"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/repo"
	"github.com/miradorstack/mirador-netops/internal/scheduler"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// RunDeviceRequest triggers one pipeline run.
type RunDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// ListAlertsRequest filters the alert table.
type ListAlertsRequest struct {
	Statuses []string `json:"statuses,omitempty"`
	DeviceID string   `json:"device_id,omitempty"`
	Severity string   `json:"severity,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// AckAlertsRequest acknowledges one or more alerts.
type AckAlertsRequest struct {
	IDs   []string `json:"ids"`
	Actor string   `json:"actor,omitempty"`
	Note  string   `json:"note,omitempty"`
}

// AlertActionRequest targets a single alert. Level is used by escalation only.
type AlertActionRequest struct {
	ID    string `json:"id"`
	Actor string `json:"actor,omitempty"`
	Note  string `json:"note,omitempty"`
	Level int    `json:"level,omitempty"`
}

// ListIncidentsRequest selects incidents by status. An empty status means all.
type ListIncidentsRequest struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ListRunsRequest lists run records, optionally for one device.
type ListRunsRequest struct {
	DeviceID string `json:"device_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// GetRequest fetches one record by id.
type GetRequest struct {
	ID string `json:"id"`
}

// GroupHealthRequest aggregates device health for one tag, or for every tag plus the
// whole fleet when Tag is empty.
type GroupHealthRequest struct {
	Tag string `json:"tag,omitempty"`
}

// AlertsResponse carries a list of alerts.
type AlertsResponse struct {
	Alerts []models.Alert `json:"alerts"`
}

// AlertHistoryResponse carries the append-only history of one alert.
type AlertHistoryResponse struct {
	AlertID string              `json:"alert_id"`
	Events  []models.AlertEvent `json:"events"`
}

// IncidentsResponse carries a list of incidents.
type IncidentsResponse struct {
	Incidents []models.Incident `json:"incidents"`
}

// RunsResponse carries a list of run records.
type RunsResponse struct {
	Runs []models.PipelineRun `json:"runs"`
}

// HotspotsResponse carries the mined hotspots.
type HotspotsResponse struct {
	Hotspots []models.Hotspot `json:"hotspots"`
}

// MetricsResponse carries the latest metric snapshot of a device.
type MetricsResponse struct {
	DeviceID string          `json:"device_id"`
	Metrics  []models.Metric `json:"metrics"`
}

// GroupHealthResponse carries one aggregate per group.
type GroupHealthResponse struct {
	Groups []models.GroupHealth `json:"groups"`
}

// DeviceStatesResponse carries the scheduler view of every device.
type DeviceStatesResponse struct {
	Devices []scheduler.DeviceState `json:"devices"`
}

// HealthResponse reports service readiness.
type HealthResponse struct {
	Status       string                  `json:"status"`
	Devices      int                     `json:"devices"`
	OpenAlerts   int                     `json:"open_alerts"`
	RunLatencyMs int64                   `json:"run_latency_p95_ms"`
	Stages       map[string]StageLatency `json:"stages,omitempty"`
}

// StageLatency reports recent durations of one pipeline stage in milliseconds.
type StageLatency struct {
	Samples int   `json:"samples"`
	P50Ms   int64 `json:"p50_ms"`
	P95Ms   int64 `json:"p95_ms"`
	MaxMs   int64 `json:"max_ms"`
}

// StageLatencyFrom converts a latency summary for the wire.
func StageLatencyFrom(sum utils.LatencySummary) StageLatency {
	return StageLatency{
		Samples: sum.Count,
		P50Ms:   sum.P50.Milliseconds(),
		P95Ms:   sum.P95.Milliseconds(),
		MaxMs:   sum.Max.Milliseconds(),
	}
}

// FromStruct decodes a structpb payload into out through its JSON form.
func FromStruct(in *structpb.Struct, out any) error {
	if in == nil {
		return fmt.Errorf("payload is nil")
	}
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// ToStruct encodes v as a structpb payload through its JSON form. v must encode as a JSON
// object.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return structpb.NewStruct(fields)
}

// Validate checks the alert filter.
func (r ListAlertsRequest) Validate() error {
	for _, s := range r.Statuses {
		switch models.AlertStatus(s) {
		case models.AlertOpen, models.AlertAcknowledged, models.AlertEscalated, models.AlertResolved, models.AlertSuppressed:
		default:
			return fmt.Errorf("unknown alert status %q", s)
		}
	}
	if r.Severity != "" && models.Severity(r.Severity).Rank() == 0 {
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	if r.Limit < 0 {
		return fmt.Errorf("limit must be >= 0")
	}
	return nil
}

// Filter converts the request into an alerting filter.
func (r ListAlertsRequest) Filter() alerting.Filter {
	f := alerting.Filter{DeviceID: r.DeviceID, Severity: models.Severity(r.Severity), Limit: r.Limit}
	for _, s := range r.Statuses {
		f.Statuses = append(f.Statuses, models.AlertStatus(s))
	}
	return f
}

// Validate checks the acknowledgement request.
func (r AckAlertsRequest) Validate() error {
	if len(r.IDs) == 0 {
		return fmt.Errorf("ids is required")
	}
	for _, id := range r.IDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("ids must not contain empty values")
		}
	}
	return nil
}

// Validate checks the single-alert request.
func (r AlertActionRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// Validate checks the incident filter.
func (r ListIncidentsRequest) Validate() error {
	switch models.IncidentStatus(r.Status) {
	case "", models.IncidentOpen, models.IncidentClosed:
	default:
		return fmt.Errorf("unknown incident status %q", r.Status)
	}
	if r.Limit < 0 {
		return fmt.Errorf("limit must be >= 0")
	}
	return nil
}

// StatusFromError maps domain errors onto gRPC status codes.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeFor(err), err.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, alerting.ErrAlertNotFound),
		errors.Is(err, repo.ErrNotFound),
		errors.Is(err, scheduler.ErrUnknownDevice):
		return codes.NotFound
	case errors.Is(err, alerting.ErrInvalidTransition):
		return codes.FailedPrecondition
	case errors.Is(err, scheduler.ErrRunInFlight):
		return codes.Aborted
	case errors.Is(err, scheduler.ErrBreakerOpen):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	if utils.KindOf(err) == utils.KindConfig {
		return codes.InvalidArgument
	}
	return codes.Internal
}

package api

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-netops/internal/alerting"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/repo"
	"github.com/miradorstack/mirador-netops/internal/scheduler"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

func TestFromStructDecodesRequest(t *testing.T) {
	in, err := structpb.NewStruct(map[string]any{
		"ids":   []any{"ALRT-1", "ALRT-2"},
		"actor": "noc",
	})
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}

	var req AckAlertsRequest
	if err := FromStruct(in, &req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.IDs) != 2 || req.IDs[1] != "ALRT-2" || req.Actor != "noc" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if err := FromStruct(nil, &req); err == nil {
		t.Fatalf("expected error for nil payload")
	}
}

func TestFromStructNumbersBecomeInts(t *testing.T) {
	in, _ := structpb.NewStruct(map[string]any{"id": "ALRT-1", "level": 3})
	var req AlertActionRequest
	if err := FromStruct(in, &req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Level != 3 {
		t.Fatalf("expected level 3, got %d", req.Level)
	}
}

func TestToStructEncodesDomainValues(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out, err := ToStruct(AlertsResponse{Alerts: []models.Alert{{
		ID:        "ALRT-1",
		DeviceID:  "r1",
		Severity:  models.SeverityCritical,
		Status:    models.AlertOpen,
		Routing:   models.RoutingDecision{ContactGroup: "noc", Channels: []string{"log"}},
		CreatedAt: now,
	}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	alerts := out.GetFields()["alerts"].GetListValue().GetValues()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	fields := alerts[0].GetStructValue().GetFields()
	if fields["id"].GetStringValue() != "ALRT-1" || fields["severity"].GetStringValue() != "critical" {
		t.Fatalf("unexpected alert fields: %v", fields)
	}

	var back AlertsResponse
	if err := FromStruct(out, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !back.Alerts[0].CreatedAt.Equal(now) || back.Alerts[0].Routing.ContactGroup != "noc" {
		t.Fatalf("unexpected decoded alert: %+v", back.Alerts[0])
	}

	if _, err := ToStruct([]string{"not", "an", "object"}); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
}

func TestListAlertsRequestValidate(t *testing.T) {
	ok := ListAlertsRequest{Statuses: []string{"open", "escalated"}, Severity: "warning", Limit: 5}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := ok.Filter()
	if len(f.Statuses) != 2 || f.Severity != models.SeverityWarning || f.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", f)
	}

	for _, bad := range []ListAlertsRequest{
		{Statuses: []string{"closed"}},
		{Severity: "urgent"},
		{Limit: -1},
	} {
		if err := bad.Validate(); err == nil {
			t.Fatalf("expected validation error for %+v", bad)
		}
	}
}

func TestRequestValidation(t *testing.T) {
	if err := (AckAlertsRequest{}).Validate(); err == nil {
		t.Fatalf("expected error for empty ids")
	}
	if err := (AckAlertsRequest{IDs: []string{"a", " "}}).Validate(); err == nil {
		t.Fatalf("expected error for blank id")
	}
	if err := (AlertActionRequest{}).Validate(); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if err := (ListIncidentsRequest{Status: "open"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (ListIncidentsRequest{Status: "pending"}).Validate(); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("ack: %w", alerting.ErrAlertNotFound), codes.NotFound},
		{repo.ErrNotFound, codes.NotFound},
		{fmt.Errorf("%w: r9", scheduler.ErrUnknownDevice), codes.NotFound},
		{alerting.ErrInvalidTransition, codes.FailedPrecondition},
		{scheduler.ErrRunInFlight, codes.Aborted},
		{scheduler.ErrBreakerOpen, codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{utils.Errorf(utils.KindConfig, "bad level"), codes.InvalidArgument},
		{errors.New("boom"), codes.Internal},
		{status.Error(codes.PermissionDenied, "no"), codes.PermissionDenied},
	}
	for _, tc := range cases {
		if got := status.Code(StatusFromError(tc.err)); got != tc.want {
			t.Fatalf("%v: expected %s, got %s", tc.err, tc.want, got)
		}
	}
	if StatusFromError(nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}

package services

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-netops/internal/alerting"
	"github.com/miradorstack/mirador-netops/internal/api"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/repo"
	"github.com/miradorstack/mirador-netops/internal/scheduler"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// DeviceRunner runs devices on demand and reports their scheduling state.
type DeviceRunner interface {
	RunDevice(ctx context.Context, deviceID string) (models.PipelineRun, error)
	DeviceStates() []scheduler.DeviceState
	Devices() []models.Device
}

// StageLatencySource reports recent per-stage pipeline durations.
type StageLatencySource interface {
	StageLatencies() map[string]utils.LatencySummary
}

// GroupScorer aggregates device health scores into a group score.
type GroupScorer interface {
	Group(name string, scores []models.HealthScore, weights map[string]float64) models.GroupHealth
}

// AlertManager is the operator surface of the alerting engine.
type AlertManager interface {
	List(f alerting.Filter) []models.Alert
	Acknowledge(ctx context.Context, id, actor, note string) (models.Alert, error)
	BulkAcknowledge(ctx context.Context, ids []string, actor, note string) ([]models.Alert, error)
	Resolve(ctx context.Context, id, actor, note string) (models.Alert, error)
	Escalate(ctx context.Context, id string, level int, actor, note string) (models.Alert, error)
	Suppress(ctx context.Context, id, actor, note string) (models.Alert, error)
	History(id string) ([]models.AlertEvent, error)
}

// IncidentView exposes the live incident table.
type IncidentView interface {
	Open() []models.Incident
	Closed(limit int) []models.Incident
	Get(id string) (models.Incident, bool)
}

// OperatorService implements the gRPC operator service.
type OperatorService struct {
	api.UnimplementedOperatorServer

	logger    *slog.Logger
	runner    DeviceRunner
	alerts    AlertManager
	incidents IncidentView
	store     repo.Store
	scorer    GroupScorer
	stages    StageLatencySource
	latencies *utils.LatencyTracker

	onDemandRuns atomic.Int64
}

// NewOperatorService constructs the operator facade. Any collaborator may be nil; the
// calls that need it then fail with FailedPrecondition.
func NewOperatorService(logger *slog.Logger, runner DeviceRunner, alerts AlertManager, incidents IncidentView, store repo.Store) *OperatorService {
	logger = utils.Component(logger, "operator")
	return &OperatorService{
		logger:    logger,
		runner:    runner,
		alerts:    alerts,
		incidents: incidents,
		store:     store,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// WithGroupScorer enables GroupHealth.
func (s *OperatorService) WithGroupScorer(scorer GroupScorer) *OperatorService {
	s.scorer = scorer
	return s
}

// WithStageLatencies makes Health report per-stage pipeline latency.
func (s *OperatorService) WithStageLatencies(src StageLatencySource) *OperatorService {
	s.stages = src
	return s
}

func decode(in *structpb.Struct, out any) error {
	if err := api.FromStruct(in, out); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := api.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func invalid(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}

// RunDevice runs the pipeline for one device now.
func (s *OperatorService) RunDevice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runner == nil {
		return nil, status.Error(codes.FailedPrecondition, "scheduler not configured")
	}
	var req api.RunDeviceRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.DeviceID == "" {
		return nil, status.Error(codes.InvalidArgument, "device_id is required")
	}

	s.logger.Debug("RunDevice called", slog.String("device_id", req.DeviceID))
	start := time.Now()
	run, err := s.runner.RunDevice(ctx, req.DeviceID)
	if err != nil {
		s.logger.Warn("on-demand run rejected", slog.String("device_id", req.DeviceID), slog.Any("error", err))
		return nil, api.StatusFromError(err)
	}
	s.latencies.Observe(time.Since(start))
	if s.onDemandRuns.Add(1)%20 == 0 {
		sum := s.latencies.Summary()
		s.logger.Info("on-demand run latency",
			slog.Duration("p50", sum.P50),
			slog.Duration("p95", sum.P95),
			slog.Duration("max", sum.Max),
			slog.Int("samples", sum.Count))
	}
	return encode(run)
}

// ListAlerts returns alerts newest first.
func (s *OperatorService) ListAlerts(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.alerts == nil {
		return nil, status.Error(codes.FailedPrecondition, "alerting not configured")
	}
	var req api.ListAlertsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	return encode(api.AlertsResponse{Alerts: s.alerts.List(req.Filter())})
}

// AcknowledgeAlerts acknowledges one alert or a batch. A batch acknowledges every
// alert it can and reports the rest as an error.
func (s *OperatorService) AcknowledgeAlerts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.alerts == nil {
		return nil, status.Error(codes.FailedPrecondition, "alerting not configured")
	}
	var req api.AckAlertsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}

	if len(req.IDs) == 1 {
		alert, err := s.alerts.Acknowledge(ctx, req.IDs[0], req.Actor, req.Note)
		if err != nil {
			return nil, api.StatusFromError(err)
		}
		return encode(api.AlertsResponse{Alerts: []models.Alert{alert}})
	}
	acked, err := s.alerts.BulkAcknowledge(ctx, req.IDs, req.Actor, req.Note)
	if err != nil {
		s.logger.Warn("bulk acknowledge incomplete",
			slog.Int("requested", len(req.IDs)),
			slog.Int("acknowledged", len(acked)),
			slog.Any("error", err))
		if len(acked) == 0 {
			return nil, api.StatusFromError(err)
		}
	}
	return encode(api.AlertsResponse{Alerts: acked})
}

// ResolveAlert resolves an alert manually.
func (s *OperatorService) ResolveAlert(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.alertAction(ctx, in, func(ctx context.Context, req api.AlertActionRequest) (models.Alert, error) {
		return s.alerts.Resolve(ctx, req.ID, req.Actor, req.Note)
	})
}

// EscalateAlert escalates an alert to a manual support level.
func (s *OperatorService) EscalateAlert(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.alertAction(ctx, in, func(ctx context.Context, req api.AlertActionRequest) (models.Alert, error) {
		if req.Level < 2 || req.Level > 4 {
			return models.Alert{}, status.Errorf(codes.InvalidArgument, "level must be 2, 3 or 4, got %d", req.Level)
		}
		return s.alerts.Escalate(ctx, req.ID, req.Level, req.Actor, req.Note)
	})
}

// SuppressAlert suppresses an open alert.
func (s *OperatorService) SuppressAlert(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.alertAction(ctx, in, func(ctx context.Context, req api.AlertActionRequest) (models.Alert, error) {
		return s.alerts.Suppress(ctx, req.ID, req.Actor, req.Note)
	})
}

func (s *OperatorService) alertAction(ctx context.Context, in *structpb.Struct, action func(context.Context, api.AlertActionRequest) (models.Alert, error)) (*structpb.Struct, error) {
	if s.alerts == nil {
		return nil, status.Error(codes.FailedPrecondition, "alerting not configured")
	}
	var req api.AlertActionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	alert, err := action(ctx, req)
	if err != nil {
		return nil, api.StatusFromError(err)
	}
	return encode(alert)
}

// AlertHistory returns the lifecycle history of one alert.
func (s *OperatorService) AlertHistory(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.alerts == nil {
		return nil, status.Error(codes.FailedPrecondition, "alerting not configured")
	}
	var req api.GetRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	events, err := s.alerts.History(req.ID)
	if err != nil {
		return nil, api.StatusFromError(err)
	}
	return encode(api.AlertHistoryResponse{AlertID: req.ID, Events: events})
}

// ListIncidents returns live incidents, or stored ones when no correlation engine is
// wired.
func (s *OperatorService) ListIncidents(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.ListIncidentsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}

	want := models.IncidentStatus(req.Status)
	if s.incidents == nil {
		if s.store == nil {
			return nil, status.Error(codes.FailedPrecondition, "incident source not configured")
		}
		incidents, err := s.store.ListIncidents(ctx, want, req.Limit)
		if err != nil {
			s.logger.Error("list incidents failed", slog.Any("error", err))
			return nil, status.Error(codes.Internal, "failed to list incidents")
		}
		return encode(api.IncidentsResponse{Incidents: incidents})
	}

	var incidents []models.Incident
	if want == "" || want == models.IncidentOpen {
		incidents = append(incidents, s.incidents.Open()...)
	}
	if want == "" || want == models.IncidentClosed {
		incidents = append(incidents, s.incidents.Closed(0)...)
	}
	if req.Limit > 0 && len(incidents) > req.Limit {
		incidents = incidents[:req.Limit]
	}
	return encode(api.IncidentsResponse{Incidents: incidents})
}

// GetIncident returns one incident from the live table or the store.
func (s *OperatorService) GetIncident(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req api.GetRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	if s.incidents != nil {
		if inc, ok := s.incidents.Get(req.ID); ok {
			return encode(inc)
		}
	}
	if s.store == nil {
		return nil, status.Errorf(codes.NotFound, "incident %s not found", req.ID)
	}
	inc, err := s.store.GetIncident(ctx, req.ID)
	if err != nil {
		return nil, api.StatusFromError(err)
	}
	return encode(inc)
}

// ListRuns returns stored run records newest first.
func (s *OperatorService) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "store not configured")
	}
	var req api.ListRunsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	runs, err := s.store.ListRuns(ctx, req.DeviceID, req.Limit)
	if err != nil {
		s.logger.Error("list runs failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to list runs")
	}
	return encode(api.RunsResponse{Runs: runs})
}

// GetRun returns one stored run record.
func (s *OperatorService) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "store not configured")
	}
	var req api.GetRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	run, err := s.store.GetRun(ctx, req.ID)
	if err != nil {
		return nil, api.StatusFromError(err)
	}
	return encode(run)
}

// ListHotspots returns the mined per-device hotspots.
func (s *OperatorService) ListHotspots(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "store not configured")
	}
	hotspots, err := s.store.Hotspots(ctx)
	if err != nil {
		s.logger.Error("fetch hotspots failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to fetch hotspots")
	}
	return encode(api.HotspotsResponse{Hotspots: hotspots})
}

// DeviceMetrics returns the latest stored sample of every metric of a device.
func (s *OperatorService) DeviceMetrics(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "store not configured")
	}
	var req api.RunDeviceRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.DeviceID == "" {
		return nil, status.Error(codes.InvalidArgument, "device_id is required")
	}
	metrics, err := s.store.LatestMetrics(ctx, req.DeviceID)
	if err != nil {
		s.logger.Error("latest metrics failed", slog.String("device_id", req.DeviceID), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to load metrics")
	}
	return encode(api.MetricsResponse{DeviceID: req.DeviceID, Metrics: metrics})
}

// DeviceStates returns breaker and cadence state per device.
func (s *OperatorService) DeviceStates(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.runner == nil {
		return nil, status.Error(codes.FailedPrecondition, "scheduler not configured")
	}
	return encode(api.DeviceStatesResponse{Devices: s.runner.DeviceStates()})
}

// Health reports readiness with a few headline numbers.
func (s *OperatorService) Health(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := api.HealthResponse{Status: "SERVING", RunLatencyMs: s.RunLatencyP95().Milliseconds()}
	if s.runner != nil {
		resp.Devices = len(s.runner.DeviceStates())
	}
	if s.alerts != nil {
		resp.OpenAlerts = len(s.alerts.List(alerting.Filter{Statuses: []models.AlertStatus{models.AlertOpen, models.AlertEscalated}}))
	}
	if s.stages != nil {
		resp.Stages = map[string]api.StageLatency{}
		for stage, sum := range s.stages.StageLatencies() {
			resp.Stages[stage] = api.StageLatencyFrom(sum)
		}
	}
	return encode(resp)
}

// RunLatencyP95 returns the current p95 of on-demand run latency.
func (s *OperatorService) RunLatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

// fleetGroup names the aggregate over every device.
const fleetGroup = "all"

// GroupHealth aggregates the latest scored run of each device by tag. A device
// weighs one plus the number of its downstream dependents; devices never scored are
// left out.
func (s *OperatorService) GroupHealth(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runner == nil || s.store == nil || s.scorer == nil {
		return nil, status.Error(codes.FailedPrecondition, "health grouping not configured")
	}
	var req api.GroupHealthRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}

	weights := map[string]float64{}
	members := map[string][]models.HealthScore{}
	var tags []string
	for _, device := range s.runner.Devices() {
		if req.Tag != "" && !device.HasTag(req.Tag) {
			continue
		}
		score, ok, err := s.latestScore(ctx, device.ID)
		if err != nil {
			s.logger.Error("load latest health failed", slog.String("device_id", device.ID), slog.Any("error", err))
			return nil, status.Error(codes.Internal, "failed to load health scores")
		}
		if !ok {
			continue
		}
		weights[device.ID] = float64(1 + len(device.Downstream))
		if req.Tag != "" {
			members[req.Tag] = append(members[req.Tag], score)
			continue
		}
		members[fleetGroup] = append(members[fleetGroup], score)
		for _, tag := range device.Tags {
			if _, seen := members[tag]; !seen {
				tags = append(tags, tag)
			}
			members[tag] = append(members[tag], score)
		}
	}

	resp := api.GroupHealthResponse{Groups: []models.GroupHealth{}}
	if req.Tag != "" {
		resp.Groups = append(resp.Groups, s.scorer.Group(req.Tag, members[req.Tag], weights))
		return encode(resp)
	}
	sort.Strings(tags)
	resp.Groups = append(resp.Groups, s.scorer.Group(fleetGroup, members[fleetGroup], weights))
	for _, tag := range tags {
		resp.Groups = append(resp.Groups, s.scorer.Group(tag, members[tag], weights))
	}
	return encode(resp)
}

// latestScoreDepth bounds how many runs are scanned for one that reached ANALYZE.
const latestScoreDepth = 10

func (s *OperatorService) latestScore(ctx context.Context, deviceID string) (models.HealthScore, bool, error) {
	runs, err := s.store.ListRuns(ctx, deviceID, latestScoreDepth)
	if err != nil {
		return models.HealthScore{}, false, err
	}
	for _, run := range runs {
		if run.Summary.HealthStatus == "" {
			continue
		}
		return models.HealthScore{
			DeviceID:  deviceID,
			Score:     run.Summary.HealthScore,
			Status:    run.Summary.HealthStatus,
			Timestamp: run.EndedAt,
		}, true, nil
	}
	return models.HealthScore{}, false, nil
}

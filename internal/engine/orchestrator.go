package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-netops/internal/alerting"
	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/correlation"
	"github.com/miradorstack/mirador-netops/internal/metrics"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/plugins"
	"github.com/miradorstack/mirador-netops/internal/repo"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// Collector executes commands on a device.
type Collector interface {
	Execute(ctx context.Context, device models.Device, commands []string) (models.CollectResult, error)
}

// PluginLookup resolves the capability set for a device OS type.
type PluginLookup interface {
	Lookup(osType string) (plugins.Plugin, error)
}

// Analyzer runs the detector set over freshly normalized metrics.
type Analyzer interface {
	Analyze(ctx context.Context, device models.Device, metrics []models.Metric) ([]models.Finding, []error)
}

// HealthScorer computes a device health score.
type HealthScorer interface {
	Score(deviceID string, snapshot []models.Metric, findings []models.Finding, at time.Time) models.HealthScore
}

// Correlator folds findings into incidents.
type Correlator interface {
	Correlate(ctx context.Context, findings []models.Finding, graph *correlation.Graph) ([]models.Incident, error)
}

// Alerter governs notifications for findings and incidents.
type Alerter interface {
	ProcessAll(ctx context.Context, signals []alerting.Signal) ([]models.AlertDecision, error)
}

// RunStore persists what a run produces.
type RunStore interface {
	StoreMetrics(ctx context.Context, metrics []models.Metric) error
	UpsertIncident(ctx context.Context, incident models.Incident) error
	StoreRun(ctx context.Context, run models.PipelineRun) error
}

// RunWriter renders a finished run, e.g. as a JSON report file.
type RunWriter interface {
	WriteRun(ctx context.Context, run models.PipelineRun) (string, error)
}

// DeviceLookup resolves inventory devices by id. Used for incident routing tags.
type DeviceLookup func(id string) (models.Device, bool)

// Dependencies wires the orchestrator collaborators. Collector, Plugins and Analyzer
// are required; everything else is optional and its stage degrades to a no-op.
type Dependencies struct {
	Collector  Collector
	Plugins    PluginLookup
	Analyzer   Analyzer
	Health     HealthScorer
	Correlator Correlator
	Alerter    Alerter
	Store      RunStore
	Graph      repo.GraphProvider
	Writer     RunWriter
	Devices    DeviceLookup
	Clock      clock.Clock
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// HookPhase tells a hook whether it runs before or after its stage.
type HookPhase string

const (
	HookPre  HookPhase = "pre"
	HookPost HookPhase = "post"
)

// Hook observes a stage. Errors are logged and never fail the run.
type Hook func(ctx context.Context, run models.PipelineRun, stage models.Stage, phase HookPhase) error

// Orchestrator runs the OBSERVE to REPORT stage sequence for one device at a time.
// It is safe for concurrent use across distinct devices.
type Orchestrator struct {
	deps   Dependencies
	cfg    config.PipelineConfig
	skip   map[models.Stage]bool
	deltas *DeltaTracker
	logger *slog.Logger
	clock  clock.Clock
	tracer trace.Tracer
	hooks  map[models.Stage][]Hook
	stages map[models.Stage]stageFunc

	latencies *utils.LatencySet
}

// NewOrchestrator validates dependencies and builds an orchestrator.
func NewOrchestrator(cfg config.PipelineConfig, deps Dependencies) (*Orchestrator, error) {
	if deps.Collector == nil || deps.Plugins == nil || deps.Analyzer == nil {
		return nil, utils.Errorf(utils.KindConfig, "orchestrator requires collector, plugins and analyzer")
	}
	deps.Logger = utils.Component(deps.Logger, "pipeline")
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("mirador-netops/engine")
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 10 * time.Second
	}
	if cfg.IOTruncate <= 0 {
		cfg.IOTruncate = 2048
	}

	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		skip:   make(map[models.Stage]bool),
		deltas: NewDeltaTracker(),
		logger: deps.Logger,
		clock:  deps.Clock,
		tracer: deps.Tracer,
		hooks:  make(map[models.Stage][]Hook),

		latencies: utils.NewLatencySet(512),
	}
	for _, name := range cfg.SkipStages {
		stage, ok := models.ParseStage(name)
		if !ok {
			return nil, utils.Errorf(utils.KindConfig, "unknown stage %q", name)
		}
		o.skip[stage] = true
	}
	o.stages = map[models.Stage]stageFunc{
		models.StageObserve:   o.observe,
		models.StageCollect:   o.collect,
		models.StageNormalize: o.normalize,
		models.StageAnalyze:   o.analyze,
		models.StageCorrelate: o.correlate,
		models.StageAlert:     o.alert,
		models.StageReport:    o.report,
	}
	return o, nil
}

// AddHook registers a pre/post hook for stage. Not safe to call concurrently with RunOnce.
func (o *Orchestrator) AddHook(stage models.Stage, hook Hook) {
	o.hooks[stage] = append(o.hooks[stage], hook)
}

// Deltas exposes the counter delta state, e.g. to forget removed devices.
func (o *Orchestrator) Deltas() *DeltaTracker { return o.deltas }

// RunOnce executes one pipeline run for device. It never returns an error: every
// failure is recorded on the returned run.
func (o *Orchestrator) RunOnce(ctx context.Context, device models.Device) models.PipelineRun {
	started := o.clock.Now()
	run := models.PipelineRun{
		ID:        utils.NewID("PIPE"),
		DeviceID:  device.ID,
		Status:    models.RunRunning,
		StartedAt: started,
	}
	logger := utils.RunLogger(o.logger, run.ID, device.ID)

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("netops.run_id", run.ID),
		attribute.String("netops.device_id", device.ID),
		attribute.String("netops.os", device.OS),
	))
	defer span.End()

	runCtx := ctx
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	st := &runState{device: device, startedAt: started}
	halted := false
	for _, stage := range models.StageOrder {
		if stage == models.StageReport {
			break
		}
		if halted {
			run.Stages = append(run.Stages, models.StageResult{Stage: stage, Status: models.StageNotRun})
			continue
		}
		if err := runCtx.Err(); err != nil {
			res := o.failedResult(stage, utils.WithKind(utils.KindTimeout, fmt.Errorf("run deadline reached before %s: %w", stage, err)))
			run.Stages = append(run.Stages, res)
			halted = true
			continue
		}
		res := o.execute(runCtx, &run, stage, st, logger)
		run.Stages = append(run.Stages, res)
		if res.Status == models.StageFailed {
			halted = true
		}
	}

	// REPORT runs on whatever exists, even after a deadline or cancellation.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ReportTimeout)
	defer cancel()
	run.Stages = append(run.Stages, o.execute(reportCtx, &run, models.StageReport, st, logger))

	o.finalize(&run, st)
	o.persist(reportCtx, run, logger)

	span.SetAttributes(attribute.String("netops.status", string(run.Status)))
	if run.Status == models.RunFailed {
		span.SetStatus(codes.Error, run.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	metrics.ObserveRun(run.Duration, string(run.Status))
	logger.Info("pipeline run finished",
		slog.String("status", string(run.Status)),
		slog.Duration("duration", run.Duration),
		slog.Int("metrics", run.Summary.Metrics),
		slog.Int("findings", len(st.findings)),
	)
	return run
}

// Findings returns how many findings the run produced, read from its summary.
func Findings(run models.PipelineRun) int {
	total := 0
	for _, n := range run.Summary.FindingsBySeverity {
		total += n
	}
	return total
}

// execute runs one stage with hooks, tracing, panic recovery and I/O capture.
func (o *Orchestrator) execute(ctx context.Context, run *models.PipelineRun, stage models.Stage, st *runState, logger *slog.Logger) models.StageResult {
	if o.skip[stage] {
		st.skipped(stage)
		now := o.clock.Now()
		return models.StageResult{Stage: stage, Status: models.StageSkipped, StartedAt: now, EndedAt: now}
	}

	ctx, span := o.tracer.Start(ctx, "stage."+string(stage), trace.WithAttributes(
		attribute.String("netops.stage", string(stage)),
	))
	defer span.End()

	o.runHooks(ctx, *run, stage, HookPre, logger)

	start := o.clock.Now()
	io, err := o.invoke(ctx, stage, st)
	end := o.clock.Now()

	res := models.StageResult{
		Stage:     stage,
		Status:    models.StageSucceeded,
		Input:     utils.Truncate(io.input, o.cfg.IOTruncate),
		Output:    utils.Truncate(io.output, o.cfg.IOTruncate),
		StartedAt: start,
		EndedAt:   end,
		Duration:  end.Sub(start),
	}
	switch {
	case err != nil:
		res.Status = models.StageFailed
		res.ErrorKind = string(utils.KindOf(err))
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("pipeline stage failed", slog.String("stage", string(stage)), slog.Any("error", err))
	case io.warning != nil:
		res.ErrorKind = string(utils.KindOf(io.warning))
		res.Error = io.warning.Error()
		span.SetStatus(codes.Ok, "")
		logger.Debug("pipeline stage degraded", slog.String("stage", string(stage)), slog.Any("error", io.warning))
	default:
		span.SetStatus(codes.Ok, "")
	}
	metrics.ObserveStage(string(stage), res.Duration)
	o.latencies.Observe(string(stage), res.Duration)

	o.runHooks(ctx, *run, stage, HookPost, logger)
	return res
}

func (o *Orchestrator) invoke(ctx context.Context, stage models.Stage, st *runState) (io stageIO, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = utils.WithKind(utils.KindInternal, fmt.Errorf("stage %s panicked: %v", stage, r))
			o.logger.Error("pipeline stage panic", slog.String("stage", string(stage)), slog.String("stack", string(debug.Stack())))
		}
	}()
	return o.stages[stage](ctx, st)
}

func (o *Orchestrator) runHooks(ctx context.Context, run models.PipelineRun, stage models.Stage, phase HookPhase, logger *slog.Logger) {
	for _, hook := range o.hooks[stage] {
		if err := callHook(ctx, hook, run, stage, phase); err != nil {
			logger.Warn("stage hook failed",
				slog.String("stage", string(stage)),
				slog.String("phase", string(phase)),
				slog.Any("error", err))
		}
	}
}

func callHook(ctx context.Context, hook Hook, run models.PipelineRun, stage models.Stage, phase HookPhase) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return hook(ctx, run, stage, phase)
}

func (o *Orchestrator) failedResult(stage models.Stage, err error) models.StageResult {
	now := o.clock.Now()
	return models.StageResult{
		Stage:     stage,
		Status:    models.StageFailed,
		ErrorKind: string(utils.KindOf(err)),
		Error:     err.Error(),
		StartedAt: now,
		EndedAt:   now,
	}
}

// finalize derives the overall status from the stage results.
func (o *Orchestrator) finalize(run *models.PipelineRun, st *runState) {
	run.EndedAt = o.clock.Now()
	run.Duration = run.EndedAt.Sub(run.StartedAt)
	run.Summary = st.summary

	var firstFailure *models.StageResult
	for i := range run.Stages {
		if run.Stages[i].Status == models.StageFailed {
			firstFailure = &run.Stages[i]
			break
		}
	}

	switch {
	case firstFailure != nil && (firstFailure.Stage == models.StageObserve || firstFailure.Stage == models.StageCollect):
		run.Status = models.RunFailed
	case firstFailure != nil:
		run.Status = models.RunPartiallyFailed
	case st.incomplete:
		run.Status = models.RunPartiallyFailed
	default:
		run.Status = models.RunCompleted
	}
	if firstFailure != nil {
		run.ErrorKind = firstFailure.ErrorKind
		run.Error = fmt.Sprintf("%s: %s", firstFailure.Stage, firstFailure.Error)
	}
}

func (o *Orchestrator) persist(ctx context.Context, run models.PipelineRun, logger *slog.Logger) {
	if o.deps.Store != nil {
		if err := o.deps.Store.StoreRun(ctx, run); err != nil {
			logger.Warn("failed to store pipeline run", slog.Any("error", err))
		}
	}
	if o.deps.Writer != nil {
		if path, err := o.deps.Writer.WriteRun(ctx, run); err != nil {
			logger.Warn("failed to write run report", slog.Any("error", err))
		} else {
			logger.Debug("run report written", slog.String("path", path))
		}
	}
}

func sortedStrings(in map[string]string) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StageLatencies summarises recent executed stage durations keyed by stage name.
func (o *Orchestrator) StageLatencies() map[string]utils.LatencySummary {
	return o.latencies.Summaries()
}

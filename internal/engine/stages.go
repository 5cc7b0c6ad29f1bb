package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/miradorstack/mirador-netops/internal/alerting"
	"github.com/miradorstack/mirador-netops/internal/correlation"
	"github.com/miradorstack/mirador-netops/internal/metrics"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/plugins"
	"github.com/miradorstack/mirador-netops/internal/report"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// stageIO is what a stage reports for the run record. warning marks a degraded but
// successful stage.
type stageIO struct {
	input   string
	output  string
	warning error
}

type stageFunc func(ctx context.Context, st *runState) (stageIO, error)

// runState accumulates stage payloads for one run.
type runState struct {
	device    models.Device
	startedAt time.Time

	plugin   plugins.Plugin
	commands []string

	collect     models.CollectResult
	metrics     []models.Metric
	parseErrors int
	findings    []models.Finding
	health      *models.HealthScore
	incidents   []models.Incident
	decisions   []models.AlertDecision
	summary     models.RunSummary

	// incomplete is set when COLLECT or NORMALIZE kept going on partial data.
	incomplete bool
}

// skipped installs the empty payload a skipped stage leaves behind.
func (st *runState) skipped(stage models.Stage) {
	switch stage {
	case models.StageObserve:
		st.plugin = plugins.Plugin{OS: st.device.OS}
	case models.StageCollect:
		st.collect = models.CollectResult{Outputs: map[string]string{}}
	case models.StageNormalize:
		st.metrics = []models.Metric{}
	case models.StageAnalyze:
		st.findings = []models.Finding{}
	case models.StageCorrelate:
		st.incidents = []models.Incident{}
	case models.StageAlert:
		st.decisions = []models.AlertDecision{}
	case models.StageReport:
		st.summary = models.RunSummary{}
	}
}

// observe resolves the device capability set and the commands for this run.
func (o *Orchestrator) observe(_ context.Context, st *runState) (stageIO, error) {
	dev := st.device
	in := fmt.Sprintf("device=%s host=%s os=%s transport=%s", dev.ID, dev.Host, dev.OS, dev.Transport)
	if dev.Host == "" {
		return stageIO{input: in}, utils.Errorf(utils.KindConfig, "device %s has no host", dev.ID)
	}
	plugin, err := o.deps.Plugins.Lookup(dev.OS)
	if err != nil {
		return stageIO{input: in}, utils.WithKind(utils.KindConfig, err)
	}
	commands := plugin.CommandsFor(dev)
	if len(commands) == 0 {
		return stageIO{input: in}, utils.Errorf(utils.KindConfig, "plugin %s defines no commands", plugin.OS)
	}
	st.plugin = plugin
	st.commands = commands
	out := fmt.Sprintf("plugin=%s commands=%s deep_audit=%t", plugin.OS, strings.Join(commands, "; "), dev.DeepAudit)
	return stageIO{input: in, output: out}, nil
}

// collect runs the plugin commands. It fails only when nothing usable came back.
func (o *Orchestrator) collect(ctx context.Context, st *runState) (stageIO, error) {
	commands := st.commands
	if len(commands) == 0 {
		// OBSERVE was skipped; resolve the plugin here instead.
		if plugin, err := o.deps.Plugins.Lookup(st.device.OS); err == nil {
			st.plugin = plugin
			commands = plugin.CommandsFor(st.device)
		}
	}
	in := strings.Join(commands, "\n")
	if len(commands) == 0 {
		st.collect = models.CollectResult{Outputs: map[string]string{}}
		return stageIO{input: in}, nil
	}

	result, err := o.deps.Collector.Execute(ctx, st.device, commands)
	if result.Outputs == nil {
		result.Outputs = map[string]string{}
	}
	st.collect = result
	out := renderOutputs(result)
	if !result.Usable() {
		if err == nil {
			err = utils.Errorf(utils.KindConnection, "no usable output from %d commands", len(commands))
		}
		return stageIO{input: in, output: out}, err
	}
	if err != nil || len(result.Errors) > 0 {
		st.incomplete = true
		if err == nil {
			err = utils.Errorf(utils.KindConnection, "%d of %d commands failed", len(result.Errors), len(commands))
		}
		return stageIO{input: in, output: out, warning: err}, nil
	}
	return stageIO{input: in, output: out}, nil
}

// normalize parses raw output into metrics, derives counter deltas and stores them.
func (o *Orchestrator) normalize(ctx context.Context, st *runState) (stageIO, error) {
	in := fmt.Sprintf("outputs=%d errors=%d", len(st.collect.Outputs), len(st.collect.Errors))
	parser := st.plugin.Parser
	if parser == nil {
		parser = plugins.NewGenericParser(st.plugin.Schema)
	}

	parsed, parseErr := parser.Parse(st.collect, st.device, o.clock.Now())
	st.parseErrors = len(multierr.Errors(parseErr))
	if len(parsed) == 0 && parseErr != nil {
		return stageIO{input: in}, utils.WithKind(utils.KindParse, parseErr)
	}

	normalized := make([]models.Metric, 0, len(parsed))
	resets := 0
	for _, m := range parsed {
		normalized = append(normalized, m)
		if m.Type != models.MetricCounter {
			continue
		}
		delta, ok, reset := o.deltas.Observe(m)
		if reset {
			resets++
		}
		if ok {
			normalized = append(normalized, delta)
		}
	}
	st.metrics = normalized

	if o.deps.Store != nil && len(normalized) > 0 {
		if err := o.deps.Store.StoreMetrics(ctx, normalized); err != nil {
			o.logger.Warn("failed to store metrics", slog.String("device_id", st.device.ID), slog.Any("error", err))
		}
	}

	out := fmt.Sprintf("metrics=%d parse_errors=%d counter_resets=%d", len(normalized), st.parseErrors, resets)
	if parseErr != nil {
		st.incomplete = true
		return stageIO{input: in, output: out, warning: utils.WithKind(utils.KindParse, parseErr)}, nil
	}
	return stageIO{input: in, output: out}, nil
}

// analyze runs the detector set and scores device health.
func (o *Orchestrator) analyze(ctx context.Context, st *runState) (stageIO, error) {
	in := fmt.Sprintf("metrics=%d", len(st.metrics))
	findings, errs := o.deps.Analyzer.Analyze(ctx, st.device, st.metrics)
	st.findings = findings
	for _, f := range findings {
		metrics.IncFinding(string(f.Detector), string(f.Severity))
	}
	if o.deps.Health != nil {
		score := o.deps.Health.Score(st.device.ID, st.metrics, findings, o.clock.Now())
		st.health = &score
	}

	out := fmt.Sprintf("findings=%d", len(findings))
	if st.health != nil {
		out += fmt.Sprintf(" health=%.2f status=%s", st.health.Score, st.health.Status)
	}
	if err := ctx.Err(); err != nil {
		return stageIO{input: in, output: out}, utils.WithKind(utils.KindTimeout, err)
	}
	if len(errs) > 0 {
		return stageIO{input: in, output: out, warning: utils.WithKind(utils.KindDetector, errors.Join(errs...))}, nil
	}
	return stageIO{input: in, output: out}, nil
}

// correlate folds this run's findings into the shared incident table.
func (o *Orchestrator) correlate(ctx context.Context, st *runState) (stageIO, error) {
	in := fmt.Sprintf("findings=%d", len(st.findings))
	if o.deps.Correlator == nil {
		st.incidents = []models.Incident{}
		return stageIO{input: in, output: "correlator disabled"}, nil
	}

	var graph *correlation.Graph
	if o.deps.Graph != nil {
		adj, err := o.deps.Graph.Graph(ctx)
		if err != nil {
			o.logger.Warn("dependency graph unavailable, correlating without edges", slog.Any("error", err))
		} else {
			graph = correlation.NewGraph(adj)
		}
	}

	incidents, err := o.deps.Correlator.Correlate(ctx, st.findings, graph)
	st.incidents = incidents
	if o.deps.Store != nil {
		for _, inc := range incidents {
			if serr := o.deps.Store.UpsertIncident(ctx, inc); serr != nil {
				o.logger.Warn("failed to store incident", slog.String("incident_id", inc.ID), slog.Any("error", serr))
			}
		}
	}

	ids := make([]string, 0, len(incidents))
	for _, inc := range incidents {
		ids = append(ids, inc.ID)
	}
	out := fmt.Sprintf("incidents=%d [%s]", len(incidents), strings.Join(ids, ","))
	if err != nil {
		if utils.KindOf(err) == utils.KindCorrelationTimeout {
			return stageIO{input: in, output: out, warning: err}, nil
		}
		return stageIO{input: in, output: out}, err
	}
	return stageIO{input: in, output: out}, nil
}

// alert hands actionable findings and multi-device incidents to the alerting engine.
func (o *Orchestrator) alert(ctx context.Context, st *runState) (stageIO, error) {
	var signals []alerting.Signal
	for _, f := range st.findings {
		if f.Severity.Rank() < models.SeverityWarning.Rank() {
			continue
		}
		signals = append(signals, alerting.FromFinding(f, st.device.Tags))
	}
	for _, inc := range st.incidents {
		if len(inc.DeviceIDs) < 2 {
			continue
		}
		signals = append(signals, alerting.FromIncident(inc, o.tagsFor(inc, st.device)))
	}
	in := fmt.Sprintf("signals=%d", len(signals))
	if o.deps.Alerter == nil || len(signals) == 0 {
		st.decisions = []models.AlertDecision{}
		return stageIO{input: in, output: "decisions=0"}, nil
	}

	decisions, err := o.deps.Alerter.ProcessAll(ctx, signals)
	st.decisions = decisions
	counts := make(map[string]string)
	tally := make(map[models.DecisionKind]int)
	for _, d := range decisions {
		tally[d.Kind]++
	}
	for kind, n := range tally {
		counts[string(kind)] = fmt.Sprint(n)
	}
	parts := make([]string, 0, len(counts))
	for _, k := range sortedStrings(counts) {
		parts = append(parts, k+"="+counts[k])
	}
	out := fmt.Sprintf("decisions=%d %s", len(decisions), strings.Join(parts, " "))
	if err != nil {
		// Persistence failures leave the decisions valid; delivery failures live on the alert.
		return stageIO{input: in, output: out, warning: err}, nil
	}
	return stageIO{input: in, output: out}, nil
}

// report builds the run summary from whatever the earlier stages left behind.
func (o *Orchestrator) report(_ context.Context, st *runState) (stageIO, error) {
	st.summary = report.Summarize(report.Input{
		Metrics:     st.metrics,
		Collect:     st.collect,
		ParseErrors: st.parseErrors,
		Findings:    st.findings,
		Health:      st.health,
		Decisions:   st.decisions,
		Incidents:   st.incidents,
	})
	out := fmt.Sprintf("metrics=%d findings=%d incidents=%d health=%.2f",
		st.summary.Metrics, len(st.findings), len(st.summary.IncidentIDs), st.summary.HealthScore)
	return stageIO{output: out}, nil
}

func (o *Orchestrator) tagsFor(inc models.Incident, fallback models.Device) []string {
	if o.deps.Devices != nil && inc.RootCauseDeviceID != "" {
		if dev, ok := o.deps.Devices(inc.RootCauseDeviceID); ok {
			return dev.Tags
		}
	}
	return fallback.Tags
}

func renderOutputs(result models.CollectResult) string {
	var b strings.Builder
	for _, cmd := range sortedStrings(result.Outputs) {
		fmt.Fprintf(&b, "$ %s\n%s\n", cmd, result.Outputs[cmd])
	}
	for _, cmd := range sortedStrings(result.Errors) {
		fmt.Fprintf(&b, "! %s: %s\n", cmd, result.Errors[cmd])
	}
	return b.String()
}

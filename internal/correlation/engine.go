package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

const confidenceEpsilon = 1e-9

type incidentState struct {
	incident       models.Incident
	findings       []models.Finding
	rule           string
	ruleConfidence float64
}

// Engine clusters findings into incidents. It is shared by concurrent pipeline runs;
// every mutation of the incident table happens under mu.
type Engine struct {
	mu       sync.Mutex
	cfg      config.CorrelationConfig
	clock    clock.Clock
	logger   *slog.Logger
	open     map[string]*incidentState
	closed   []models.Incident
	pending  []models.Finding
	memberOf map[string]string
}

// NewEngine constructs a correlation engine.
func NewEngine(cfg config.CorrelationConfig, clk clock.Clock, logger *slog.Logger) *Engine {
	logger = utils.Component(logger, "correlation")
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = 3
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.7
	}
	if cfg.ClosedLimit <= 0 {
		cfg.ClosedLimit = 1000
	}
	return &Engine{
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		open:     make(map[string]*incidentState),
		memberOf: make(map[string]string),
	}
}

// Window returns the correlation window.
func (e *Engine) Window() time.Duration { return e.cfg.Window }

// Correlate folds findings into the incident table and returns the open incidents
// that were created or extended. When the evaluation budget runs out the remaining
// findings are kept for the next call and a correlation_timeout error is returned.
func (e *Engine) Correlate(ctx context.Context, findings []models.Finding, graph *Graph) ([]models.Incident, error) {
	if e.cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Budget)
		defer cancel()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	e.closeExpiredLocked(now)

	batch := append(e.pending, findings...)
	e.pending = nil
	sort.SliceStable(batch, func(i, j int) bool {
		if !batch[i].Timestamp.Equal(batch[j].Timestamp) {
			return batch[i].Timestamp.Before(batch[j].Timestamp)
		}
		return batch[i].DeviceID < batch[j].DeviceID
	})

	touched := make(map[string]struct{})
	var budgetErr error
	for i, f := range batch {
		if err := ctx.Err(); err != nil {
			e.pending = append(e.pending, batch[i:]...)
			budgetErr = utils.WithKind(utils.KindCorrelationTimeout,
				fmt.Errorf("correlation deferred %d findings: %w", len(batch)-i, err))
			e.logger.Warn("correlation budget exceeded", slog.Int("deferred", len(batch)-i), slog.Any("error", err))
			break
		}
		if _, seen := e.memberOf[f.ID]; seen {
			continue
		}
		e.absorbLocked(f, graph, now, touched)
	}
	if budgetErr == nil {
		e.applyRulesLocked(now, touched)
	}

	out := make([]models.Incident, 0, len(touched))
	for id := range touched {
		st, ok := e.open[id]
		if !ok {
			continue
		}
		e.refreshLocked(st, graph)
		out = append(out, cloneIncident(st.incident))
	}
	sortIncidents(out)
	return out, budgetErr
}

// CloseExpired closes every incident whose window elapsed without a new member and
// returns them.
func (e *Engine) CloseExpired() []models.Incident {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeExpiredLocked(e.clock.Now())
}

// Open returns the open incidents ordered by start.
func (e *Engine) Open() []models.Incident {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Incident, 0, len(e.open))
	for _, st := range e.open {
		out = append(out, cloneIncident(st.incident))
	}
	sortIncidents(out)
	return out
}

// Closed returns up to limit most recently closed incidents, newest first.
func (e *Engine) Closed(limit int) []models.Incident {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.closed) {
		limit = len(e.closed)
	}
	out := make([]models.Incident, 0, limit)
	for i := len(e.closed) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneIncident(e.closed[i]))
	}
	return out
}

// Get looks up an open or closed incident.
func (e *Engine) Get(id string) (models.Incident, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.open[id]; ok {
		return cloneIncident(st.incident), true
	}
	for i := len(e.closed) - 1; i >= 0; i-- {
		if e.closed[i].ID == id {
			return cloneIncident(e.closed[i]), true
		}
	}
	return models.Incident{}, false
}

// Members returns the findings absorbed by an open incident.
func (e *Engine) Members(id string) []models.Finding {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.open[id]
	if !ok {
		return nil
	}
	return append([]models.Finding(nil), st.findings...)
}

// Pending returns how many findings wait for the next evaluation.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Engine) absorbLocked(f models.Finding, graph *Graph, now time.Time, touched map[string]struct{}) {
	var linked []*incidentState
	for _, id := range e.openIDsLocked() {
		st := e.open[id]
		if e.links(f, st, graph) {
			linked = append(linked, st)
		}
	}

	var target *incidentState
	if len(linked) == 0 {
		target = &incidentState{incident: models.Incident{
			ID:     utils.NewID("INC"),
			Status: models.IncidentOpen,
			Start:  f.Timestamp,
		}}
		e.open[target.incident.ID] = target
	} else {
		target = linked[0]
		for _, other := range linked[1:] {
			target = e.mergeLocked(target, other, now, touched)
		}
	}

	target.findings = append(target.findings, f)
	target.incident.LastUpdate = now
	e.memberOf[f.ID] = target.incident.ID
	touched[target.incident.ID] = struct{}{}
}

// links reports whether f belongs with any member of st: same device, or devices within
// MaxHops in the dependency graph, with timestamps no further apart than the window.
func (e *Engine) links(f models.Finding, st *incidentState, graph *Graph) bool {
	for _, m := range st.findings {
		if absDuration(f.Timestamp.Sub(m.Timestamp)) > e.cfg.Window {
			continue
		}
		if m.DeviceID == f.DeviceID {
			return true
		}
		if _, ok := graph.Distance(f.DeviceID, m.DeviceID, e.cfg.MaxHops); ok {
			return true
		}
	}
	return false
}

// mergeLocked folds the younger incident into the older one and returns the survivor.
func (e *Engine) mergeLocked(a, b *incidentState, now time.Time, touched map[string]struct{}) *incidentState {
	if b.incident.Start.Before(a.incident.Start) ||
		(b.incident.Start.Equal(a.incident.Start) && b.incident.ID < a.incident.ID) {
		a, b = b, a
	}
	for _, f := range b.findings {
		e.memberOf[f.ID] = a.incident.ID
	}
	a.findings = append(a.findings, b.findings...)
	if a.rule == "" && b.rule != "" {
		a.rule, a.ruleConfidence = b.rule, b.ruleConfidence
	}
	if b.incident.Start.Before(a.incident.Start) {
		a.incident.Start = b.incident.Start
	}
	a.incident.LastUpdate = now

	delete(e.open, b.incident.ID)
	delete(touched, b.incident.ID)
	touched[a.incident.ID] = struct{}{}
	e.logger.Debug("incidents merged", slog.String("into", a.incident.ID), slog.String("from", b.incident.ID))
	return a
}

// applyRulesLocked merges incidents when at least MinDevices devices report the same
// variable within one window.
func (e *Engine) applyRulesLocked(now time.Time, touched map[string]struct{}) {
	for _, rule := range e.cfg.Rules {
		if rule.Variable == "" || rule.MinDevices < 2 {
			continue
		}
		type match struct {
			st *incidentState
			f  models.Finding
		}
		var matches []match
		var latest time.Time
		for _, id := range e.openIDsLocked() {
			st := e.open[id]
			for _, f := range st.findings {
				if f.Variable != rule.Variable || f.Severity.Rank() < rule.Severity.Rank() {
					continue
				}
				matches = append(matches, match{st: st, f: f})
				if f.Timestamp.After(latest) {
					latest = f.Timestamp
				}
			}
		}

		devices := make(map[string]struct{})
		var members []*incidentState
		seen := make(map[*incidentState]struct{})
		for _, m := range matches {
			if latest.Sub(m.f.Timestamp) > e.cfg.Window {
				continue
			}
			devices[m.f.DeviceID] = struct{}{}
			if _, ok := seen[m.st]; !ok {
				seen[m.st] = struct{}{}
				members = append(members, m.st)
			}
		}
		if len(devices) < rule.MinDevices {
			continue
		}
		confidence := 0.6 + min(0.3, 0.05*float64(len(devices)))
		if confidence+confidenceEpsilon < e.cfg.MinConfidence {
			continue
		}

		target := members[0]
		for _, other := range members[1:] {
			target = e.mergeLocked(target, other, now, touched)
		}
		target.rule = rule.ID
		target.ruleConfidence = confidence
		touched[target.incident.ID] = struct{}{}
	}
}

func (e *Engine) refreshLocked(st *incidentState, graph *Graph) {
	inc := &st.incident
	devices := make(map[string]time.Time)
	variables := make(map[string]struct{})
	inc.FindingIDs = inc.FindingIDs[:0]
	inc.Severity = ""
	var newest time.Time
	for _, f := range st.findings {
		inc.FindingIDs = append(inc.FindingIDs, f.ID)
		variables[f.Variable] = struct{}{}
		if first, ok := devices[f.DeviceID]; !ok || f.Timestamp.Before(first) {
			devices[f.DeviceID] = f.Timestamp
		}
		if f.Timestamp.Before(inc.Start) || inc.Start.IsZero() {
			inc.Start = f.Timestamp
		}
		if f.Timestamp.After(newest) {
			newest = f.Timestamp
		}
		inc.Severity = models.MaxSeverity(inc.Severity, f.Severity)
	}

	inc.DeviceIDs = sortedKeys(devices)
	inc.Variables = sortedKeys(variables)

	anchor := inc.LastUpdate
	if newest.After(anchor) {
		anchor = newest
	}
	inc.End = anchor.Add(e.cfg.Window)

	switch {
	case st.rule != "":
		inc.RuleID = st.rule
		inc.Confidence = st.ruleConfidence
	case len(inc.DeviceIDs) > 1:
		inc.RuleID = models.RuleDependency
		inc.Confidence = min(1, 0.5+0.1*float64(graph.EdgesBetween(inc.DeviceIDs)))
	default:
		inc.RuleID = models.RuleSameDevice
		inc.Confidence = 1
	}

	inc.RootCauseDeviceID = selectRootCause(devices, graph)
	inc.ImpactChain = graph.Reachable(inc.RootCauseDeviceID, e.cfg.MaxHops)
}

// selectRootCause picks the member with no correlated ancestor among members.
// Ties break on the earliest finding, then device id. If every member has an
// ancestor (a dependency cycle) all members are candidates.
func selectRootCause(firstSeen map[string]time.Time, graph *Graph) string {
	members := sortedKeys(firstSeen)
	var candidates []string
	for _, d := range members {
		hasAncestor := false
		for _, other := range members {
			if other != d && graph.IsAncestor(other, d) {
				hasAncestor = true
				break
			}
		}
		if !hasAncestor {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		candidates = members
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ti, tj := firstSeen[candidates[i]], firstSeen[candidates[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return candidates[i] < candidates[j]
	})
	if len(candidates) == 0 {
		return ""
	}
	return candidates[0]
}

func (e *Engine) closeExpiredLocked(now time.Time) []models.Incident {
	var closed []models.Incident
	for _, id := range e.openIDsLocked() {
		st := e.open[id]
		if now.Before(st.incident.End) {
			continue
		}
		st.incident.Status = models.IncidentClosed
		st.incident.ClosedAt = now
		for _, f := range st.findings {
			delete(e.memberOf, f.ID)
		}
		delete(e.open, id)
		closed = append(closed, cloneIncident(st.incident))
		e.closed = append(e.closed, st.incident)
	}
	if over := len(e.closed) - e.cfg.ClosedLimit; over > 0 {
		e.closed = append([]models.Incident(nil), e.closed[over:]...)
	}
	return closed
}

func (e *Engine) openIDsLocked() []string {
	ids := make([]string, 0, len(e.open))
	for id := range e.open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := e.open[ids[i]].incident, e.open[ids[j]].incident
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ID < b.ID
	})
	return ids
}

func sortIncidents(incidents []models.Incident) {
	sort.SliceStable(incidents, func(i, j int) bool {
		if !incidents[i].Start.Equal(incidents[j].Start) {
			return incidents[i].Start.Before(incidents[j].Start)
		}
		return incidents[i].ID < incidents[j].ID
	})
}

func cloneIncident(in models.Incident) models.Incident {
	out := in
	out.FindingIDs = append([]string(nil), in.FindingIDs...)
	out.DeviceIDs = append([]string(nil), in.DeviceIDs...)
	out.Variables = append([]string(nil), in.Variables...)
	out.ImpactChain = append([]string(nil), in.ImpactChain...)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

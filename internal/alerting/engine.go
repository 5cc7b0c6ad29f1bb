package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/miradorstack/mirador-netops/internal/cache"
	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/metrics"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

// Store persists alert snapshots. Implementations must be safe for concurrent use.
type Store interface {
	UpsertAlert(ctx context.Context, alert models.Alert) error
}

// Dependencies wires the collaborators of the alerting engine. Only Notifier is
// needed for delivery; the rest default to in-process implementations.
type Dependencies struct {
	Notifier Notifier
	Cache    cache.Provider
	Store    Store
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Engine turns findings and incidents into governed alerts. The alert table and the
// per-fingerprint cooldown state are guarded by mu; delivery and persistence happen
// outside the lock.
type Engine struct {
	cfg       config.AlertingConfig
	clock     clock.Clock
	logger    *slog.Logger
	router    *Router
	silences  *SilenceSet
	deliverer *Deliverer
	cache     cache.Provider
	store     Store

	mu     sync.Mutex
	alerts map[string]*models.Alert
	order  []string
	latest map[string]string
}

// NewEngine builds the alerting engine. Routing rules from cfg.RoutesPath are added
// to the inline cfg.Routes.
func NewEngine(cfg config.AlertingConfig, deps Dependencies) (*Engine, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Cache == nil {
		deps.Cache = cache.Disabled{}
	}
	rules := append([]models.RoutingRule(nil), cfg.Routes...)
	fileRules, err := LoadRoutingRules(cfg.RoutesPath)
	if err != nil {
		return nil, utils.WithKind(utils.KindConfig, err)
	}
	rules = append(rules, fileRules...)

	return &Engine{
		cfg:       cfg,
		clock:     deps.Clock,
		logger:    deps.Logger,
		router:    NewRouter(rules, cfg.DefaultRoute),
		silences:  NewSilenceSet(cfg.Silences, cfg.Maintenance),
		deliverer: NewDeliverer(deps.Notifier, cfg.Delivery, deps.Logger),
		cache:     deps.Cache,
		store:     deps.Store,
		alerts:    make(map[string]*models.Alert),
		latest:    make(map[string]string),
	}, nil
}

// Silences exposes the runtime silence set.
func (e *Engine) Silences() *SilenceSet { return e.silences }

// Router exposes the routing rules.
func (e *Engine) Router() *Router { return e.router }

// Process applies dedup, suppression, routing and delivery to one signal.
func (e *Engine) Process(ctx context.Context, sig Signal) (models.AlertDecision, error) {
	fp := sig.Fingerprint()
	now := e.clock.Now()

	e.mu.Lock()
	if live := e.liveLocked(fp, now); live != nil {
		decision := e.mergeLocked(live, sig, now)
		e.mu.Unlock()
		return e.finish(ctx, decision)
	}
	e.mu.Unlock()

	cooldown := cooldownFor(e.cfg, sig.Class, sig.Severity)
	claimed, err := e.cache.SetNX(ctx, cooldownKey(fp), []byte(sig.SourceID), cooldown)
	if err != nil {
		// A shared cache outage must not block alerting; fall back to local state.
		e.logger.Warn("cooldown claim failed", slog.String("fingerprint", fp), slog.Any("error", err))
		claimed = true
	}

	e.mu.Lock()
	if live := e.liveLocked(fp, now); live != nil {
		decision := e.mergeLocked(live, sig, now)
		e.mu.Unlock()
		return e.finish(ctx, decision)
	}
	if !claimed {
		// Another replica holds the cooldown. Count the occurrence on any local alert
		// for the fingerprint, even one whose local cooldown already lapsed.
		if id, ok := e.latest[fp]; ok {
			if a := e.alerts[id]; a != nil && a.Status != models.AlertResolved {
				decision := e.mergeLocked(a, sig, now)
				decision.Kind = models.DecisionDeduplicated
				e.mu.Unlock()
				return e.finish(ctx, decision)
			}
		}
		e.mu.Unlock()
		metrics.IncAlertDecision(string(models.DecisionDeduplicated))
		return models.AlertDecision{
			Kind:  models.DecisionDeduplicated,
			Alert: models.Alert{Fingerprint: fp, DeviceID: sig.DeviceID, Variable: sig.Variable, Class: sig.Class, Severity: sig.Severity},
		}, nil
	}

	alert := e.newAlertLocked(sig, fp, now, cooldown)
	if by, ok := e.silences.Match(sig, now); ok {
		alert.Status = models.AlertSuppressed
		alert.SuppressedBy = by
		alert.Delivery = models.DeliverySkipped
		alert.History = append(alert.History, models.AlertEvent{At: now, Action: "suppressed", To: models.AlertSuppressed, Note: by})
		e.insertLocked(alert)
		snapshot := alert.Clone()
		e.mu.Unlock()
		return e.finish(ctx, models.AlertDecision{Kind: models.DecisionSuppressed, Alert: snapshot})
	}

	alert.Routing = e.router.Route(sig)
	alert.History = append(alert.History, models.AlertEvent{At: now, Action: "created", To: models.AlertOpen, Note: "routed via " + alert.Routing.RuleID})
	e.insertLocked(alert)
	snapshot := alert.Clone()
	e.mu.Unlock()

	res := e.deliverer.Deliver(ctx, snapshot)
	snapshot = e.recordDelivery(alert.ID, res, "delivered")
	return e.finish(ctx, models.AlertDecision{
		Kind:      models.DecisionCreated,
		Alert:     snapshot,
		Delivered: res.Status == models.DeliveryDelivered,
	})
}

// ProcessAll processes signals in order and returns one decision per signal.
func (e *Engine) ProcessAll(ctx context.Context, signals []Signal) ([]models.AlertDecision, error) {
	decisions := make([]models.AlertDecision, 0, len(signals))
	var errs []error
	for _, sig := range signals {
		d, err := e.Process(ctx, sig)
		if err != nil {
			errs = append(errs, err)
		}
		decisions = append(decisions, d)
	}
	return decisions, errors.Join(errs...)
}

// liveLocked returns the latest alert for fp if it is not resolved and still inside
// its cooldown. Suppressed alerts absorb repeats during their cooldown too.
func (e *Engine) liveLocked(fp string, now time.Time) *models.Alert {
	id, ok := e.latest[fp]
	if !ok {
		return nil
	}
	a := e.alerts[id]
	if a == nil || a.Status == models.AlertResolved || !now.Before(a.CooldownUntil) {
		return nil
	}
	return a
}

func (e *Engine) mergeLocked(a *models.Alert, sig Signal, now time.Time) models.AlertDecision {
	a.Occurrences++
	a.LastSeenAt = now
	if sig.Source == models.SourceIncident {
		a.Variable = sig.Variable
		a.Message = sig.Message
	}
	if sig.Severity.Rank() > a.Severity.Rank() {
		a.History = append(a.History, models.AlertEvent{At: now, Action: "severity_raised", Note: string(a.Severity) + "->" + string(sig.Severity)})
		a.Severity = sig.Severity
	}
	if n := e.cfg.CriticalAfterN; n > 0 && a.Occurrences >= n && a.Severity != models.SeverityCritical {
		a.History = append(a.History, models.AlertEvent{At: now, Action: "severity_raised", Note: fmt.Sprintf("critical after %d occurrences", a.Occurrences)})
		a.Severity = models.SeverityCritical
	}
	return models.AlertDecision{Kind: models.DecisionMerged, Alert: a.Clone()}
}

func (e *Engine) newAlertLocked(sig Signal, fp string, now time.Time, cooldown time.Duration) *models.Alert {
	return &models.Alert{
		ID:            utils.NewID("ALR"),
		Fingerprint:   fp,
		Source:        sig.Source,
		SourceID:      sig.SourceID,
		DeviceID:      sig.DeviceID,
		Variable:      sig.Variable,
		Class:         sig.Class,
		Severity:      sig.Severity,
		Message:       sig.Message,
		Tags:          append([]string(nil), sig.Tags...),
		Status:        models.AlertOpen,
		Occurrences:   1,
		Delivery:      models.DeliveryPending,
		CreatedAt:     now,
		LastSeenAt:    now,
		CooldownUntil: now.Add(cooldown),
	}
}

func (e *Engine) insertLocked(a *models.Alert) {
	e.alerts[a.ID] = a
	e.order = append(e.order, a.ID)
	e.latest[a.Fingerprint] = a.ID
}

// recordDelivery folds a delivery result into the stored alert without touching its
// lifecycle status.
func (e *Engine) recordDelivery(id string, res DeliveryResult, action string) models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.alerts[id]
	now := e.clock.Now()
	a.DeliveryAttempts += res.Attempts
	a.Delivery = res.Status
	if res.Err != nil {
		a.LastDeliveryError = res.Err.Error()
	}
	if res.Status == models.DeliveryFailed {
		action = "delivery_failed"
	}
	a.History = append(a.History, models.AlertEvent{At: now, Action: action, Note: string(res.Status)})
	return a.Clone()
}

func (e *Engine) finish(ctx context.Context, decision models.AlertDecision) (models.AlertDecision, error) {
	metrics.IncAlertDecision(string(decision.Kind))
	return decision, e.persist(ctx, decision.Alert)
}

func (e *Engine) persist(ctx context.Context, alert models.Alert) error {
	if e.store == nil || alert.ID == "" {
		return nil
	}
	if err := e.store.UpsertAlert(ctx, alert); err != nil {
		e.logger.Warn("persist alert failed", slog.String("alert_id", alert.ID), slog.Any("error", err))
		return fmt.Errorf("persist alert %s: %w", alert.ID, err)
	}
	return nil
}

// Restore loads previously persisted alerts, oldest first, so dedup and lifecycle
// survive a restart.
func (e *Engine) Restore(alerts []models.Alert) {
	sorted := append([]models.Alert(nil), alerts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range sorted {
		if _, exists := e.alerts[a.ID]; exists {
			continue
		}
		clone := a.Clone()
		e.insertLocked(&clone)
	}
}

// Get returns a copy of an alert.
func (e *Engine) Get(id string) (models.Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.alerts[id]
	if !ok {
		return models.Alert{}, false
	}
	return a.Clone(), true
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Statuses []models.AlertStatus
	DeviceID string
	Severity models.Severity
	Limit    int
}

// List returns alerts newest first.
func (e *Engine) List(f Filter) []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.Alert, 0)
	for i := len(e.order) - 1; i >= 0; i-- {
		a := e.alerts[e.order[i]]
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, a.Status) {
			continue
		}
		if f.DeviceID != "" && a.DeviceID != f.DeviceID {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		out = append(out, a.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func containsStatus(list []models.AlertStatus, s models.AlertStatus) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func cooldownKey(fp string) string {
	return cache.Cooldowns.Key(fp)
}

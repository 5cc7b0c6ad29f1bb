package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/miradorstack/mirador-netops/internal/metrics"
	"github.com/miradorstack/mirador-netops/internal/models"
)

var (
	// ErrAlertNotFound is returned for unknown alert ids.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidTransition is returned when the lifecycle forbids a status change.
	ErrInvalidTransition = errors.New("invalid alert transition")
)

var transitions = map[models.AlertStatus][]models.AlertStatus{
	models.AlertOpen:         {models.AlertAcknowledged, models.AlertEscalated, models.AlertResolved, models.AlertSuppressed},
	models.AlertAcknowledged: {models.AlertEscalated, models.AlertResolved},
	models.AlertEscalated:    {models.AlertAcknowledged, models.AlertResolved},
}

// CanTransition reports whether the alert lifecycle allows from -> to.
func CanTransition(from, to models.AlertStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Manual escalation levels and their contact groups.
var escalationGroups = map[int]string{
	2: "level2_support",
	3: "level3_support",
	4: "management",
}

// Acknowledge moves an open or escalated alert to acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, id, actor, note string) (models.Alert, error) {
	alert, err := e.transition(id, models.AlertAcknowledged, actor, note, func(a *models.Alert, now time.Time) {
		a.AckedAt = now
		a.AckedBy = actor
	})
	if err != nil {
		return models.Alert{}, err
	}
	return alert, e.persist(ctx, alert)
}

// BulkAcknowledge acknowledges every id, collecting per-alert failures.
func (e *Engine) BulkAcknowledge(ctx context.Context, ids []string, actor, note string) ([]models.Alert, error) {
	var (
		out  []models.Alert
		errs error
	)
	for _, id := range ids {
		a, err := e.Acknowledge(ctx, id, actor, note)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		out = append(out, a)
	}
	return out, errs
}

// Resolve moves any non-terminal alert to resolved with a manual resolution.
func (e *Engine) Resolve(ctx context.Context, id, actor, note string) (models.Alert, error) {
	return e.resolve(ctx, id, actor, note, models.ResolutionManual)
}

func (e *Engine) resolve(ctx context.Context, id, actor, note string, how models.ResolutionType) (models.Alert, error) {
	alert, err := e.transition(id, models.AlertResolved, actor, note, func(a *models.Alert, now time.Time) {
		a.ResolvedAt = now
		a.Resolution = how
	})
	if err != nil {
		return models.Alert{}, err
	}
	// A later recurrence must be able to open a fresh alert right away.
	if err := e.cache.Del(ctx, cooldownKey(alert.Fingerprint)); err != nil {
		e.logger.Warn("release cooldown failed", slog.String("alert_id", id), slog.Any("error", err))
	}
	return alert, e.persist(ctx, alert)
}

// Suppress moves an open alert to suppressed.
func (e *Engine) Suppress(ctx context.Context, id, actor, note string) (models.Alert, error) {
	alert, err := e.transition(id, models.AlertSuppressed, actor, note, func(a *models.Alert, _ time.Time) {
		a.SuppressedBy = "manual:" + actor
	})
	if err != nil {
		return models.Alert{}, err
	}
	return alert, e.persist(ctx, alert)
}

// Escalate manually raises an alert to level (2 level2_support, 3 level3_support,
// 4 management) and redelivers it to that group. The level never decreases.
func (e *Engine) Escalate(ctx context.Context, id string, level int, actor, note string) (models.Alert, error) {
	group, ok := escalationGroups[level]
	if !ok {
		return models.Alert{}, fmt.Errorf("%w: unknown escalation level %d", ErrInvalidTransition, level)
	}

	e.mu.Lock()
	a, ok := e.alerts[id]
	if !ok {
		e.mu.Unlock()
		return models.Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if level <= a.EscalationLevel {
		e.mu.Unlock()
		return models.Alert{}, fmt.Errorf("%w: alert %s already at level %d", ErrInvalidTransition, id, a.EscalationLevel)
	}
	if a.Status != models.AlertEscalated && !CanTransition(a.Status, models.AlertEscalated) {
		e.mu.Unlock()
		return models.Alert{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, models.AlertEscalated)
	}
	now := e.clock.Now()
	channels := a.Routing.Channels
	e.escalateLocked(a, now, level, models.RoutingDecision{RuleID: "manual", ContactGroup: group, Channels: channels}, actor, note)
	snapshot := a.Clone()
	e.mu.Unlock()

	res := e.deliverer.Deliver(ctx, snapshot)
	snapshot = e.recordDelivery(id, res, "redelivered")
	return snapshot, e.persist(ctx, snapshot)
}

// History returns the append-only event log of an alert.
func (e *Engine) History(id string) ([]models.AlertEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return append([]models.AlertEvent(nil), a.History...), nil
}

func (e *Engine) transition(id string, to models.AlertStatus, actor, note string, apply func(*models.Alert, time.Time)) (models.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.alerts[id]
	if !ok {
		return models.Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if !CanTransition(a.Status, to) {
		return models.Alert{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	now := e.clock.Now()
	from := a.Status
	a.Status = to
	apply(a, now)
	if note != "" {
		a.Notes = append(a.Notes, note)
	}
	a.History = append(a.History, models.AlertEvent{At: now, Action: string(to), From: from, To: to, Actor: actor, Note: note})
	return a.Clone(), nil
}

func (e *Engine) escalateLocked(a *models.Alert, now time.Time, level int, route models.RoutingDecision, actor, note string) {
	from := a.Status
	a.Status = models.AlertEscalated
	if level > a.EscalationLevel {
		a.EscalationLevel = level
	}
	a.Routing = route
	if note != "" {
		a.Notes = append(a.Notes, note)
	}
	a.History = append(a.History, models.AlertEvent{
		At:     now,
		Action: "escalated",
		From:   from,
		To:     models.AlertEscalated,
		Actor:  actor,
		Note:   fmt.Sprintf("level %d -> %s %s", a.EscalationLevel, route.ContactGroup, note),
	})
}

// EvaluateEscalations applies the escalation policies to every live alert. Each policy
// fires at most once per alert. Escalated alerts are redelivered to the policy target.
func (e *Engine) EvaluateEscalations(ctx context.Context) []models.Alert {
	policies := append([]models.EscalationPolicy(nil), e.cfg.Escalation...)
	sort.SliceStable(policies, func(i, j int) bool { return policies[i].Level < policies[j].Level })
	if len(policies) == 0 {
		return nil
	}

	e.mu.Lock()
	now := e.clock.Now()
	var escalated []models.Alert
	for _, id := range e.order {
		a := e.alerts[id]
		if a.Status.Terminal() {
			continue
		}
		for _, p := range policies {
			if !p.AppliesTo(a.Severity) || containsString(a.FiredPolicies, p.ID) || !policyTriggered(p, a, now) {
				continue
			}
			if a.Status != models.AlertEscalated && !CanTransition(a.Status, models.AlertEscalated) {
				continue
			}
			level := p.Level
			if level <= a.EscalationLevel {
				level = a.EscalationLevel + 1
			}
			route := models.RoutingDecision{RuleID: "escalation:" + p.ID, ContactGroup: p.ContactGroup, Channels: append([]string(nil), p.Channels...)}
			if route.ContactGroup == "" {
				route.ContactGroup = a.Routing.ContactGroup
			}
			if len(route.Channels) == 0 {
				route.Channels = append([]string(nil), a.Routing.Channels...)
			}
			a.FiredPolicies = append(a.FiredPolicies, p.ID)
			e.escalateLocked(a, now, level, route, "policy:"+p.ID, "")
			metrics.IncEscalation(p.ID)
			escalated = append(escalated, a.Clone())
		}
	}
	e.mu.Unlock()

	for i, a := range escalated {
		res := e.deliverer.Deliver(ctx, a)
		escalated[i] = e.recordDelivery(a.ID, res, "redelivered")
		_ = e.persist(ctx, escalated[i])
	}
	if len(escalated) > 0 {
		e.logger.Info("alerts escalated", slog.Int("count", len(escalated)))
	}
	return escalated
}

// policyTriggered checks the unacknowledged-duration and repeat-count triggers.
func policyTriggered(p models.EscalationPolicy, a *models.Alert, now time.Time) bool {
	unacked := a.Status == models.AlertOpen || a.Status == models.AlertEscalated
	if p.UnackedFor > 0 && unacked && now.Sub(a.CreatedAt) >= p.UnackedFor {
		return true
	}
	if p.RepeatCount > 0 && a.Occurrences >= p.RepeatCount {
		if p.RepeatWithin <= 0 || a.LastSeenAt.Sub(a.CreatedAt) <= p.RepeatWithin {
			return true
		}
	}
	return false
}

// AutoResolve resolves finding alerts whose condition has not recurred for the
// configured AutoResolveAfter.
func (e *Engine) AutoResolve(ctx context.Context) []models.Alert {
	after := e.cfg.AutoResolveAfter
	if after <= 0 {
		return nil
	}
	e.mu.Lock()
	now := e.clock.Now()
	var ids []string
	for _, id := range e.order {
		a := e.alerts[id]
		if a.Status.Terminal() || a.Source != models.SourceFinding {
			continue
		}
		if now.Sub(a.LastSeenAt) >= after {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	var resolved []models.Alert
	for _, id := range ids {
		a, err := e.resolve(ctx, id, "system", "condition cleared", models.ResolutionAuto)
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			e.logger.Warn("auto-resolve failed", slog.String("alert_id", id), slog.Any("error", err))
			continue
		}
		if err == nil {
			resolved = append(resolved, a)
		}
	}
	return resolved
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

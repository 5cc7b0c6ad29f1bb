package alerting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/miradorstack/mirador-netops/internal/cache"
	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type sentNotification struct {
	group   string
	channel string
	payload models.Notification
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []sentNotification
	calls int
	err   error
}

func (f *fakeNotifier) Send(_ context.Context, group, channel string, payload models.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	f.sent = append(f.sent, sentNotification{group: group, channel: channel, payload: payload})
	return true, nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func baseConfig() config.AlertingConfig {
	return config.AlertingConfig{
		Cooldown: 300 * time.Second,
		Routes: []models.RoutingRule{{
			ID:           "core-critical",
			Priority:     10,
			Match:        models.RouteMatch{Tags: []string{"core"}, Severities: []models.Severity{models.SeverityCritical}},
			ContactGroup: "noc",
			Channels:     []string{"webhook"},
		}},
		Delivery: config.DeliveryConfig{
			Retry: config.RetryConfig{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
		},
	}
}

func newTestEngine(t *testing.T, cfg config.AlertingConfig, notifier Notifier) (*Engine, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(base)
	engine, err := NewEngine(cfg, Dependencies{Notifier: notifier, Clock: mock})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine, mock
}

func cpuSignal(at time.Time, severity models.Severity) Signal {
	return FromFinding(models.Finding{
		ID:        "FND-" + at.Format("150405"),
		DeviceID:  "r1",
		Variable:  "cpu_usage",
		Class:     "high_cpu",
		Severity:  severity,
		Value:     96,
		Threshold: 90,
		Timestamp: at,
	}, []string{"core"})
}

func TestProcessDedupWithinCooldown(t *testing.T) {
	notifier := &fakeNotifier{}
	engine, mock := newTestEngine(t, baseConfig(), notifier)
	ctx := context.Background()

	first, err := engine.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if first.Kind != models.DecisionCreated || !first.Delivered {
		t.Fatalf("expected created and delivered, got %+v", first)
	}
	if first.Alert.Status != models.AlertOpen || first.Alert.Routing.ContactGroup != "noc" {
		t.Fatalf("unexpected alert %+v", first.Alert)
	}

	mock.Add(30 * time.Second)
	second, err := engine.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if second.Kind != models.DecisionMerged || second.Alert.ID != first.Alert.ID {
		t.Fatalf("expected merge into %s, got %+v", first.Alert.ID, second)
	}
	if second.Alert.Occurrences != 2 {
		t.Fatalf("expected occurrence count 2, got %d", second.Alert.Occurrences)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one delivery, got %d", notifier.count())
	}

	mock.Add(280 * time.Second)
	third, err := engine.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if third.Kind != models.DecisionCreated || third.Alert.ID == first.Alert.ID {
		t.Fatalf("expected a new alert after cooldown, got %+v", third)
	}
	if third.Alert.Fingerprint != first.Alert.Fingerprint {
		t.Fatalf("fingerprint must be stable")
	}
	if notifier.count() != 2 {
		t.Fatalf("expected two deliveries, got %d", notifier.count())
	}
	if got := len(engine.List(Filter{})); got != 2 {
		t.Fatalf("expected two alert records, got %d", got)
	}
}

func TestFingerprintIncludesDevice(t *testing.T) {
	if Fingerprint("r1", "cpu_usage", "high_cpu") == Fingerprint("r2", "cpu_usage", "high_cpu") {
		t.Fatalf("fingerprints collided across devices")
	}
	if Fingerprint("r1", "cpu_usage", "high_cpu") != Fingerprint("r1", "cpu_usage", "high_cpu") {
		t.Fatalf("fingerprint is not stable")
	}
}

func TestMaintenanceWindowSuppresses(t *testing.T) {
	cfg := baseConfig()
	cfg.Maintenance = []models.MaintenanceWindow{{
		ID:                "mw1",
		SuppressionFilter: models.SuppressionFilter{Tags: []string{"core"}, Severities: []models.Severity{models.SeverityCritical}},
		Start:             base.Add(-time.Hour),
		End:               base.Add(time.Hour),
	}}
	notifier := &fakeNotifier{}
	engine, mock := newTestEngine(t, cfg, notifier)

	decision, err := engine.Process(context.Background(), cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if decision.Kind != models.DecisionSuppressed || decision.Alert.Status != models.AlertSuppressed {
		t.Fatalf("expected suppressed alert, got %+v", decision)
	}
	if decision.Alert.DeliveryAttempts != 0 || notifier.count() != 0 {
		t.Fatalf("suppressed alert must not be delivered")
	}
	if decision.Alert.SuppressedBy != "maintenance:mw1" {
		t.Fatalf("unexpected suppressor %q", decision.Alert.SuppressedBy)
	}

	mock.Add(time.Minute)
	again, err := engine.Process(context.Background(), cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if again.Kind != models.DecisionMerged || again.Alert.ID != decision.Alert.ID {
		t.Fatalf("expected repeat inside cooldown to merge into the suppressed alert, got %+v", again)
	}

	// A warning does not match the window's severity filter.
	warn := cpuSignal(mock.Now(), models.SeverityWarning)
	warn.Class = "high_cpu_warning"
	other, err := engine.Process(context.Background(), warn)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if other.Kind != models.DecisionCreated {
		t.Fatalf("expected warning to bypass the window, got %s", other.Kind)
	}
}

func TestEscalationFiresOnce(t *testing.T) {
	cfg := baseConfig()
	cfg.Escalation = []models.EscalationPolicy{{ID: "unacked-10m", UnackedFor: 10 * time.Minute, Level: 1, ContactGroup: "oncall", Channels: []string{"webhook"}}}
	notifier := &fakeNotifier{}
	engine, mock := newTestEngine(t, cfg, notifier)
	ctx := context.Background()

	created, err := engine.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	mock.Add(5 * time.Minute)
	if got := engine.EvaluateEscalations(ctx); len(got) != 0 {
		t.Fatalf("escalated before threshold: %+v", got)
	}
	mock.Add(5 * time.Minute)
	escalated := engine.EvaluateEscalations(ctx)
	if len(escalated) != 1 {
		t.Fatalf("expected one escalation, got %d", len(escalated))
	}
	a := escalated[0]
	if a.ID != created.Alert.ID || a.Status != models.AlertEscalated || a.EscalationLevel != 1 || a.Routing.ContactGroup != "oncall" {
		t.Fatalf("unexpected escalated alert %+v", a)
	}

	mock.Add(10 * time.Minute)
	if got := engine.EvaluateEscalations(ctx); len(got) != 0 {
		t.Fatalf("policy fired twice: %+v", got)
	}
	if notifier.count() != 2 {
		t.Fatalf("expected initial delivery plus one redelivery, got %d", notifier.count())
	}
}

func TestAcknowledgePreventsEscalation(t *testing.T) {
	cfg := baseConfig()
	cfg.Escalation = []models.EscalationPolicy{{ID: "unacked-10m", UnackedFor: 10 * time.Minute, Level: 1, ContactGroup: "oncall"}}
	engine, mock := newTestEngine(t, cfg, &fakeNotifier{})
	ctx := context.Background()

	created, err := engine.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	mock.Add(5 * time.Minute)
	acked, err := engine.Acknowledge(ctx, created.Alert.ID, "alice", "looking")
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if acked.AckedBy != "alice" || acked.Status != models.AlertAcknowledged {
		t.Fatalf("unexpected ack result %+v", acked)
	}

	mock.Add(10 * time.Minute)
	if got := engine.EvaluateEscalations(ctx); len(got) != 0 {
		t.Fatalf("acknowledged alert escalated: %+v", got)
	}
}

func TestRoutingFirstMatchByPriority(t *testing.T) {
	router := NewRouter([]models.RoutingRule{
		{ID: "catch-all", Priority: 1, ContactGroup: "all", Channels: []string{"log"}},
		{ID: "critical", Priority: 5, Match: models.RouteMatch{Severities: []models.Severity{models.SeverityCritical}}, ContactGroup: "crit"},
		{ID: "cpu", Priority: 10, Match: models.RouteMatch{Variables: []string{"cpu_usage"}}, ContactGroup: "cpu"},
	}, models.RoutingDecision{})

	cases := []struct {
		variable string
		severity models.Severity
		want     string
	}{
		{"cpu_usage", models.SeverityCritical, "cpu"},
		{"memory_usage", models.SeverityCritical, "crit"},
		{"memory_usage", models.SeverityWarning, "all"},
	}
	for _, tc := range cases {
		got := router.Route(Signal{DeviceID: "r1", Variable: tc.variable, Severity: tc.severity})
		if got.ContactGroup != tc.want {
			t.Fatalf("%s/%s routed to %s, want %s", tc.variable, tc.severity, got.ContactGroup, tc.want)
		}
	}

	fallback := NewRouter(nil, models.RoutingDecision{}).Route(Signal{DeviceID: "r1", Variable: "x"})
	if fallback.ContactGroup != "default" || len(fallback.Channels) != 1 || fallback.Channels[0] != "log" {
		t.Fatalf("unexpected default route %+v", fallback)
	}
}

func TestDeliveryRetryExhaustion(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("channel down")}
	engine, mock := newTestEngine(t, baseConfig(), notifier)

	decision, err := engine.Process(context.Background(), cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if decision.Delivered {
		t.Fatalf("expected delivery failure")
	}
	a := decision.Alert
	if a.Delivery != models.DeliveryFailed || a.DeliveryAttempts != 3 {
		t.Fatalf("expected 3 failed attempts, got %s/%d", a.Delivery, a.DeliveryAttempts)
	}
	if a.Status != models.AlertOpen {
		t.Fatalf("delivery failure must not change lifecycle status, got %s", a.Status)
	}
	if a.LastDeliveryError == "" {
		t.Fatalf("expected delivery error to be recorded")
	}
}

func TestCooldownPrecedence(t *testing.T) {
	cfg := config.AlertingConfig{
		Cooldown:           5 * time.Minute,
		CooldownBySeverity: map[models.Severity]time.Duration{models.SeverityCritical: 2 * time.Minute},
		CustomCooldowns:    map[string]time.Duration{"bgp_flap": time.Minute},
	}
	if got := cooldownFor(cfg, "bgp_flap", models.SeverityCritical); got != time.Minute {
		t.Fatalf("custom cooldown should win, got %v", got)
	}
	if got := cooldownFor(cfg, "high_cpu", models.SeverityCritical); got != 2*time.Minute {
		t.Fatalf("severity cooldown should win over global, got %v", got)
	}
	if got := cooldownFor(cfg, "high_cpu", models.SeverityWarning); got != 5*time.Minute {
		t.Fatalf("expected global cooldown, got %v", got)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	notifier := &fakeNotifier{}
	engine, mock := newTestEngine(t, baseConfig(), notifier)
	ctx := context.Background()

	created, err := engine.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	id := created.Alert.ID

	escalated, err := engine.Escalate(ctx, id, 2, "bob", "needs tier 2")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if escalated.Routing.ContactGroup != "level2_support" || escalated.EscalationLevel != 2 {
		t.Fatalf("unexpected escalation %+v", escalated)
	}
	if _, err := engine.Escalate(ctx, id, 2, "bob", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected level to be monotonic, got %v", err)
	}

	if _, err := engine.Resolve(ctx, id, "bob", "fixed"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := engine.Acknowledge(ctx, id, "bob", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected resolved alert to be terminal, got %v", err)
	}
	if _, err := engine.Acknowledge(ctx, "ALR-missing", "bob", ""); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	history, err := engine.History(id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if last := history[len(history)-1]; last.To != models.AlertResolved || last.Actor != "bob" {
		t.Fatalf("unexpected last event %+v", last)
	}

	// A resolved fingerprint opens a fresh alert even inside the old cooldown.
	mock.Add(time.Second)
	again, err := engine.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if again.Kind != models.DecisionCreated || again.Alert.ID == id {
		t.Fatalf("expected new alert after resolution, got %+v", again)
	}
}

func TestBulkAcknowledgeCollectsErrors(t *testing.T) {
	engine, mock := newTestEngine(t, baseConfig(), &fakeNotifier{})
	ctx := context.Background()
	created, err := engine.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	acked, err := engine.BulkAcknowledge(ctx, []string{created.Alert.ID, "ALR-missing"}, "alice", "")
	if len(acked) != 1 {
		t.Fatalf("expected one acknowledged alert, got %d", len(acked))
	}
	if !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestSharedCooldownAcrossEngines(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(base)
	shared := cache.NewMemoryProvider(mock)

	first, err := NewEngine(baseConfig(), Dependencies{Notifier: &fakeNotifier{}, Cache: shared, Clock: mock})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	second, err := NewEngine(baseConfig(), Dependencies{Notifier: &fakeNotifier{}, Cache: shared, Clock: mock})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx := context.Background()
	if d, err := first.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical)); err != nil || d.Kind != models.DecisionCreated {
		t.Fatalf("expected first replica to create, got %+v (%v)", d, err)
	}
	d, err := second.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if d.Kind != models.DecisionDeduplicated {
		t.Fatalf("expected second replica to deduplicate, got %s", d.Kind)
	}
}

func TestLostClaimMergesIntoLocalAlert(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(base)
	shared := cache.NewMemoryProvider(mock)
	notifier := &fakeNotifier{}
	engine, err := NewEngine(baseConfig(), Dependencies{Notifier: notifier, Cache: shared, Clock: mock})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()

	created, err := engine.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil || created.Kind != models.DecisionCreated {
		t.Fatalf("expected created, got %+v (%v)", created, err)
	}

	// Local cooldown lapses, then another replica claims the fingerprint first.
	mock.Add(301 * time.Second)
	if ok, err := shared.SetNX(ctx, cooldownKey(created.Alert.Fingerprint), []byte("other"), 5*time.Minute); err != nil || !ok {
		t.Fatalf("other replica claim: %v %v", ok, err)
	}

	d, err := engine.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if d.Kind != models.DecisionDeduplicated || d.Alert.ID != created.Alert.ID {
		t.Fatalf("expected dedup into %s, got %+v", created.Alert.ID, d)
	}
	if d.Alert.Occurrences != 2 {
		t.Fatalf("expected occurrence count 2, got %d", d.Alert.Occurrences)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one delivery, got %d", notifier.count())
	}
}

func TestGrowingIncidentAlertsOnce(t *testing.T) {
	notifier := &fakeNotifier{}
	engine, mock := newTestEngine(t, baseConfig(), notifier)
	ctx := context.Background()

	inc := models.Incident{
		ID:                "INC-1",
		FindingIDs:        []string{"F1", "F2"},
		DeviceIDs:         []string{"a", "b"},
		Variables:         []string{"cpu_usage"},
		Start:             mock.Now(),
		LastUpdate:        mock.Now(),
		Status:            models.IncidentOpen,
		RootCauseDeviceID: "a",
		RuleID:            "dependency",
		Severity:          models.SeverityCritical,
	}
	first, err := engine.Process(ctx, FromIncident(inc, []string{"core"}))
	if err != nil || first.Kind != models.DecisionCreated {
		t.Fatalf("expected created, got %+v (%v)", first, err)
	}

	mock.Add(30 * time.Second)
	inc.FindingIDs = append(inc.FindingIDs, "F3")
	inc.DeviceIDs = append(inc.DeviceIDs, "c")
	inc.Variables = []string{"cpu_usage", "memory_usage"}
	inc.RuleID = "rule:wide-cpu"
	inc.RootCauseDeviceID = "c"
	inc.LastUpdate = mock.Now()

	second, err := engine.Process(ctx, FromIncident(inc, []string{"core"}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if second.Kind != models.DecisionMerged || second.Alert.ID != first.Alert.ID {
		t.Fatalf("expected merge into %s, got %+v", first.Alert.ID, second)
	}
	if second.Alert.Variable != "cpu_usage,memory_usage" {
		t.Fatalf("expected refreshed variables, got %q", second.Alert.Variable)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one delivery, got %d", notifier.count())
	}
}

func TestDeviceOfflineLifecycle(t *testing.T) {
	cfg := baseConfig()
	cfg.CustomCooldowns = map[string]time.Duration{"device_offline": time.Minute}
	cfg.AutoResolveAfter = time.Minute
	notifier := &fakeNotifier{}
	engine, mock := newTestEngine(t, cfg, notifier)
	ctx := context.Background()
	dev := models.Device{ID: "r1", Tags: []string{"core"}}

	first, err := engine.DeviceOffline(ctx, dev, 3)
	if err != nil {
		t.Fatalf("offline: %v", err)
	}
	if first.Kind != models.DecisionCreated || first.Alert.Class != "device_offline" || first.Alert.Severity != models.SeverityCritical {
		t.Fatalf("unexpected decision %+v", first)
	}
	if first.Alert.Routing.ContactGroup != "noc" {
		t.Fatalf("expected core-critical route, got %+v", first.Alert.Routing)
	}

	// Still down well past the class cooldown: same alert, no new page.
	mock.Add(5 * time.Minute)
	second, err := engine.DeviceOffline(ctx, dev, 8)
	if err != nil {
		t.Fatalf("offline: %v", err)
	}
	if second.Kind != models.DecisionMerged || second.Alert.ID != first.Alert.ID || second.Alert.Occurrences != 2 {
		t.Fatalf("expected merge into %s, got %+v", first.Alert.ID, second)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected one delivery, got %d", notifier.count())
	}
	mock.Add(5 * time.Minute)
	if got := engine.AutoResolve(ctx); len(got) != 0 {
		t.Fatalf("offline alerts clear on recovery only, got %+v", got)
	}

	resolved, ok, err := engine.DeviceRecovered(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("recovered: %v %v", ok, err)
	}
	if resolved.Status != models.AlertResolved || resolved.Resolution != models.ResolutionAuto {
		t.Fatalf("unexpected resolution %+v", resolved)
	}
	if _, ok, err := engine.DeviceRecovered(ctx, "r1"); err != nil || ok {
		t.Fatalf("second recovery should be a no-op, got %v %v", ok, err)
	}

	again, err := engine.DeviceOffline(ctx, dev, 3)
	if err != nil || again.Kind != models.DecisionCreated || again.Alert.ID == first.Alert.ID {
		t.Fatalf("expected a fresh alert after recovery, got %+v (%v)", again, err)
	}
}

func TestAutoResolve(t *testing.T) {
	cfg := baseConfig()
	cfg.AutoResolveAfter = 15 * time.Minute
	engine, mock := newTestEngine(t, cfg, &fakeNotifier{})
	ctx := context.Background()

	created, err := engine.Process(ctx, cpuSignal(mock.Now(), models.SeverityCritical))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	mock.Add(10 * time.Minute)
	if got := engine.AutoResolve(ctx); len(got) != 0 {
		t.Fatalf("resolved too early")
	}
	mock.Add(5 * time.Minute)
	got := engine.AutoResolve(ctx)
	if len(got) != 1 || got[0].ID != created.Alert.ID || got[0].Resolution != models.ResolutionAuto {
		t.Fatalf("unexpected auto-resolve result %+v", got)
	}
}

func TestLoadRoutingRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	if err := os.WriteFile(path, []byte(`routes:
  - id: bgp
    priority: 20
    match:
      classes: [bgp_flap]
    contact_group: network
    channels: [webhook, log]
`), 0o644); err != nil {
		t.Fatalf("write routes: %v", err)
	}
	rules, err := LoadRoutingRules(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != 1 || rules[0].ContactGroup != "network" || len(rules[0].Channels) != 2 {
		t.Fatalf("unexpected rules %+v", rules)
	}

	missing, err := LoadRoutingRules(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil || missing != nil {
		t.Fatalf("expected no rules for a missing file, got %v %v", missing, err)
	}
}

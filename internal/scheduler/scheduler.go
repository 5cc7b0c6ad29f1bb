package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/metrics"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/repo"
	"github.com/miradorstack/mirador-netops/internal/utils"
)

var (
	// ErrUnknownDevice is returned for ids missing from the inventory.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrRunInFlight is returned when the device already has a run in progress.
	ErrRunInFlight = errors.New("run already in flight")
	// ErrBreakerOpen is returned while the device circuit breaker rejects runs.
	ErrBreakerOpen = errors.New("device circuit breaker open")

	errRunFailed = errors.New("pipeline run failed")
)

// Runner executes one pipeline run.
type Runner interface {
	RunOnce(ctx context.Context, device models.Device) models.PipelineRun
}

// AlertMaintainer runs the periodic alert lifecycle tasks.
type AlertMaintainer interface {
	EvaluateEscalations(ctx context.Context) []models.Alert
	AutoResolve(ctx context.Context) []models.Alert
}

// IncidentMaintainer closes incidents whose window elapsed.
type IncidentMaintainer interface {
	CloseExpired() []models.Incident
	Open() []models.Incident
	Closed(limit int) []models.Incident
}

// HotspotMiner aggregates closed incidents.
type HotspotMiner interface {
	Mine(ctx context.Context, incidents []models.Incident) ([]models.Hotspot, error)
}

// IncidentStore persists incident transitions made by the maintenance tick.
type IncidentStore interface {
	UpsertIncident(ctx context.Context, incident models.Incident) error
}

// OfflineReporter turns sustained unreachability into an alert and clears it again.
type OfflineReporter interface {
	DeviceOffline(ctx context.Context, device models.Device, failures int) (models.AlertDecision, error)
	DeviceRecovered(ctx context.Context, deviceID string) (models.Alert, bool, error)
}

// Pruner deletes stored records past their retention age.
type Pruner interface {
	Prune(ctx context.Context, now time.Time, keep config.RetentionConfig) (repo.PruneResult, error)
}

// Dependencies wires the scheduler. Only Runner is required.
type Dependencies struct {
	Runner    Runner
	Alerts    AlertMaintainer
	Incidents IncidentMaintainer
	Miner     HotspotMiner
	Store     IncidentStore
	Offline   OfflineReporter
	Pruner    Pruner
	Retention config.RetentionConfig
	Clock     clock.Clock
	Logger    *slog.Logger
}

// DeviceState is the scheduling view of one device.
type DeviceState struct {
	DeviceID            string           `json:"device_id"`
	Breaker             string           `json:"breaker"`
	Interval            time.Duration    `json:"interval"`
	Running             bool             `json:"running"`
	Runs                int              `json:"runs"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	Offline             bool             `json:"offline,omitempty"`
	LastRunID           string           `json:"last_run_id,omitempty"`
	LastStatus          models.RunStatus `json:"last_status,omitempty"`
	LastRunAt           time.Time        `json:"last_run_at,omitempty"`
}

// TickResult reports what one maintenance tick did.
type TickResult struct {
	Escalated       int
	AutoResolved    int
	ClosedIncidents int
	Hotspots        int
	Pruned          int64
}

type deviceEntry struct {
	device   models.Device
	breaker  *gobreaker.CircuitBreaker
	schedule *AdaptiveSchedule

	running     bool
	runs        int
	failures    int
	unreachable int
	offline     bool
	last        models.PipelineRun
}

// Scheduler drives device runs through a bounded worker pool. Each device has at most
// one run in flight and its own circuit breaker.
type Scheduler struct {
	cfg    config.SchedulerConfig
	tick   time.Duration
	deps   Dependencies
	logger *slog.Logger
	pool   *semaphore.Weighted

	mu        sync.Mutex
	devices   map[string]*deviceEntry
	order     []string
	lastPrune time.Time
}

// New builds a scheduler over the inventory.
func New(cfg config.SchedulerConfig, tick time.Duration, devices []models.Device, deps Dependencies) (*Scheduler, error) {
	if deps.Runner == nil {
		return nil, errors.New("scheduler requires a runner")
	}
	deps.Logger = utils.Component(deps.Logger, "scheduler")
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Retention.Interval <= 0 {
		deps.Retention.Interval = time.Hour
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if tick <= 0 {
		tick = 30 * time.Second
	}
	if cfg.OfflineAfter <= 0 {
		cfg.OfflineAfter = 3
	}
	s := &Scheduler{
		cfg:     cfg,
		tick:    tick,
		deps:    deps,
		logger:  deps.Logger,
		pool:    semaphore.NewWeighted(int64(cfg.Workers)),
		devices: make(map[string]*deviceEntry),
	}
	for _, dev := range devices {
		if _, dup := s.devices[dev.ID]; dup {
			return nil, fmt.Errorf("duplicate device %q", dev.ID)
		}
		s.devices[dev.ID] = s.newEntry(dev)
		s.order = append(s.order, dev.ID)
	}
	return s, nil
}

func (s *Scheduler) newEntry(dev models.Device) *deviceEntry {
	interval := dev.PollInterval
	if interval <= 0 {
		interval = s.cfg.PollInterval
	}
	threshold := s.cfg.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	halfOpen := s.cfg.Breaker.HalfOpenMaxCalls
	if halfOpen == 0 {
		halfOpen = 3
	}
	recovery := s.cfg.Breaker.Recovery
	if recovery <= 0 {
		recovery = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        dev.ID,
		MaxRequests: halfOpen,
		Timeout:     recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, breakerValue(to))
			s.logger.Warn("device circuit breaker state changed",
				slog.String("device_id", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	metrics.SetBreakerState(dev.ID, breakerValue(gobreaker.StateClosed))
	return &deviceEntry{
		device:   dev,
		breaker:  breaker,
		schedule: NewAdaptiveSchedule(interval, s.cfg.MinInterval, s.cfg.MaxInterval, s.cfg.Adaptive),
	}
}

// Devices returns the inventory in configuration order.
func (s *Scheduler) Devices() []models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Device, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.devices[id].device)
	}
	return out
}

// Device looks up one inventory device.
func (s *Scheduler) Device(id string) (models.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.devices[id]
	if !ok {
		return models.Device{}, false
	}
	return entry.device, true
}

// RunDevice runs the pipeline once for deviceID through its breaker, holding one worker
// slot for the duration. A failed run is returned as data; errors mean the run did not
// happen.
func (s *Scheduler) RunDevice(ctx context.Context, deviceID string) (models.PipelineRun, error) {
	s.mu.Lock()
	entry, ok := s.devices[deviceID]
	if !ok {
		s.mu.Unlock()
		return models.PipelineRun{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if entry.running {
		s.mu.Unlock()
		return models.PipelineRun{}, fmt.Errorf("%w: %s", ErrRunInFlight, deviceID)
	}
	entry.running = true
	device := entry.device
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		entry.running = false
		s.mu.Unlock()
	}()

	if err := s.pool.Acquire(ctx, 1); err != nil {
		return models.PipelineRun{}, err
	}
	defer s.pool.Release(1)

	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	result, err := entry.breaker.Execute(func() (interface{}, error) {
		run := s.deps.Runner.RunOnce(ctx, device)
		if run.Status == models.RunFailed {
			return run, errRunFailed
		}
		return run, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		s.logger.Debug("run rejected by circuit breaker", slog.String("device_id", deviceID))
		return models.PipelineRun{}, fmt.Errorf("%w: %s", ErrBreakerOpen, deviceID)
	}
	run, _ := result.(models.PipelineRun)

	s.mu.Lock()
	entry.runs++
	entry.last = run
	if run.Status == models.RunFailed {
		entry.failures++
	} else {
		entry.failures = 0
	}
	var goneOffline, recovered bool
	if unreachable(run) {
		entry.unreachable++
		if entry.unreachable >= s.cfg.OfflineAfter {
			entry.offline = true
			goneOffline = true
		}
	} else {
		recovered = entry.offline
		entry.unreachable = 0
		entry.offline = false
	}
	streak := entry.unreachable
	s.mu.Unlock()

	s.reportReachability(ctx, device, streak, goneOffline, recovered)

	interval := entry.schedule.Adjust(hasFindings(run))
	s.logger.Debug("device run scheduled",
		slog.String("device_id", deviceID),
		slog.String("status", string(run.Status)),
		slog.Duration("next_interval", interval))
	return run, nil
}

// reportReachability forwards offline and recovery transitions to the alerting side.
// Reporting errors are logged; the run itself already happened.
func (s *Scheduler) reportReachability(ctx context.Context, device models.Device, streak int, offline, recovered bool) {
	if s.deps.Offline == nil {
		return
	}
	if offline {
		decision, err := s.deps.Offline.DeviceOffline(ctx, device, streak)
		if err != nil {
			s.logger.Warn("device offline alert failed", slog.String("device_id", device.ID), slog.Any("error", err))
			return
		}
		s.logger.Warn("device offline",
			slog.String("device_id", device.ID),
			slog.Int("consecutive_failures", streak),
			slog.String("decision", string(decision.Kind)))
	}
	if recovered {
		if _, ok, err := s.deps.Offline.DeviceRecovered(ctx, device.ID); err != nil {
			s.logger.Warn("device recovery resolve failed", slog.String("device_id", device.ID), slog.Any("error", err))
		} else if ok {
			s.logger.Info("device reachable again", slog.String("device_id", device.ID))
		}
	}
}

// unreachable reports whether the run could not collect anything from the device.
func unreachable(run models.PipelineRun) bool {
	res, ok := run.StageResult(models.StageCollect)
	return ok && res.Status == models.StageFailed
}

// RunAll runs every device once through the worker pool and returns the runs that
// happened, in inventory order.
func (s *Scheduler) RunAll(ctx context.Context) []models.PipelineRun {
	ids := s.deviceIDs()
	results := make([]*models.PipelineRun, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			run, err := s.RunDevice(gctx, id)
			if err != nil {
				s.logger.Info("device run skipped", slog.String("device_id", id), slog.Any("error", err))
				return nil
			}
			results[i] = &run
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.PipelineRun, 0, len(ids))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Tick runs escalation evaluation, auto-resolve, incident expiry, hotspot mining and retention pruning.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	var res TickResult
	if s.deps.Alerts != nil {
		res.Escalated = len(s.deps.Alerts.EvaluateEscalations(ctx))
		res.AutoResolved = len(s.deps.Alerts.AutoResolve(ctx))
	}
	res.Pruned = s.prune(ctx)
	if s.deps.Incidents == nil {
		return res
	}

	closed := s.deps.Incidents.CloseExpired()
	res.ClosedIncidents = len(closed)
	if s.deps.Store != nil {
		for _, inc := range closed {
			if err := s.deps.Store.UpsertIncident(ctx, inc); err != nil {
				s.logger.Warn("failed to store closed incident", slog.String("incident_id", inc.ID), slog.Any("error", err))
			}
		}
	}
	metrics.SetIncidentsOpen(len(s.deps.Incidents.Open()))

	if len(closed) > 0 && s.deps.Miner != nil {
		hotspots, err := s.deps.Miner.Mine(ctx, s.deps.Incidents.Closed(0))
		if err != nil {
			s.logger.Warn("hotspot mining failed", slog.Any("error", err))
		}
		res.Hotspots = len(hotspots)
	}
	if res.Escalated+res.AutoResolved+res.ClosedIncidents > 0 {
		s.logger.Info("maintenance tick",
			slog.Int("escalated", res.Escalated),
			slog.Int("auto_resolved", res.AutoResolved),
			slog.Int("closed_incidents", res.ClosedIncidents))
	}
	return res
}

// prune applies the retention policy at most once per retention interval.
func (s *Scheduler) prune(ctx context.Context) int64 {
	if s.deps.Pruner == nil {
		return 0
	}
	now := s.deps.Clock.Now()
	s.mu.Lock()
	due := s.lastPrune.IsZero() || now.Sub(s.lastPrune) >= s.deps.Retention.Interval
	if due {
		s.lastPrune = now
	}
	s.mu.Unlock()
	if !due {
		return 0
	}

	res, err := s.deps.Pruner.Prune(ctx, now, s.deps.Retention)
	if err != nil {
		s.logger.Warn("retention prune failed", slog.Any("error", err))
		return 0
	}
	if res.Total() > 0 {
		s.logger.Info("retention prune",
			slog.Int64("metrics", res.Metrics),
			slog.Int64("runs", res.Runs),
			slog.Int64("alerts", res.Alerts))
	}
	return res.Total()
}

// DeviceStates reports breaker, cadence and last run per device.
func (s *Scheduler) DeviceStates() []DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeviceState, 0, len(s.order))
	for _, id := range s.order {
		e := s.devices[id]
		out = append(out, DeviceState{
			DeviceID:            id,
			Breaker:             e.breaker.State().String(),
			Interval:            e.schedule.Interval(),
			Running:             e.running,
			Runs:                e.runs,
			ConsecutiveFailures: e.failures,
			Offline:             e.offline,
			LastRunID:           e.last.ID,
			LastStatus:          e.last.Status,
			LastRunAt:           e.last.StartedAt,
		})
	}
	return out
}

// Start registers every device on a cron scheduler with its adaptive schedule, plus the
// maintenance tick, and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cronLogger{s.logger})))
	for _, id := range s.deviceIDs() {
		s.mu.Lock()
		schedule := s.devices[id].schedule
		s.mu.Unlock()
		c.Schedule(schedule, cron.FuncJob(func() { s.dispatch(ctx, id) }))
	}
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.tick), func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule maintenance tick: %w", err)
	}

	s.logger.Info("scheduler started",
		slog.Int("devices", len(s.order)),
		slog.Int("workers", s.cfg.Workers),
		slog.Duration("tick", s.tick))
	c.Start()
	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// dispatch runs one scheduled device run; RunDevice waits for a worker slot.
func (s *Scheduler) dispatch(ctx context.Context, id string) {
	if _, err := s.RunDevice(ctx, id); err != nil {
		s.logger.Debug("scheduled run skipped", slog.String("device_id", id), slog.Any("error", err))
	}
}

func (s *Scheduler) deviceIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func hasFindings(run models.PipelineRun) bool {
	for _, n := range run.Summary.FindingsBySeverity {
		if n > 0 {
			return true
		}
	}
	return false
}

func breakerValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}

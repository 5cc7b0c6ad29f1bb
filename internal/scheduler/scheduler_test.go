package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/repo"
)

type fakeRunner struct {
	mu       sync.Mutex
	status   map[string]models.RunStatus
	findings map[string]int
	calls    map[string]int
	active   atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	release  chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		status:   make(map[string]models.RunStatus),
		findings: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (f *fakeRunner) RunOnce(_ context.Context, device models.Device) models.PipelineRun {
	n := f.active.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer f.active.Add(-1)

	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[device.ID]++
	status := f.status[device.ID]
	if status == "" {
		status = models.RunCompleted
	}
	run := models.PipelineRun{ID: "PIPE-" + device.ID, DeviceID: device.ID, Status: status}
	if status == models.RunFailed {
		run.Stages = []models.StageResult{{Stage: models.StageCollect, Status: models.StageFailed, ErrorKind: "connection"}}
	}
	if n := f.findings[device.ID]; n > 0 {
		run.Summary.FindingsBySeverity = map[string]int{"warning": n}
	}
	return run
}

func (f *fakeRunner) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func devices(ids ...string) []models.Device {
	out := make([]models.Device, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Device{ID: id, Host: id + ".lab"})
	}
	return out
}

func TestAdaptiveScheduleBounds(t *testing.T) {
	s := NewAdaptiveSchedule(60*time.Second, 10*time.Second, 3600*time.Second, true)
	assert.Equal(t, 30*time.Second, s.Adjust(true))
	assert.Equal(t, 15*time.Second, s.Adjust(true))
	assert.Equal(t, 10*time.Second, s.Adjust(true), "floor")
	assert.Equal(t, 15*time.Second, s.Adjust(false))

	for i := 0; i < 20; i++ {
		s.Adjust(false)
	}
	assert.Equal(t, time.Hour, s.Interval(), "ceiling")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(time.Hour), s.Next(now))

	fixed := NewAdaptiveSchedule(time.Minute, 10*time.Second, time.Hour, false)
	assert.Equal(t, time.Minute, fixed.Adjust(true))
}

func TestRunDeviceAdjustsInterval(t *testing.T) {
	runner := newFakeRunner()
	runner.findings["r1"] = 2
	cfg := config.SchedulerConfig{Workers: 2, PollInterval: time.Minute, Adaptive: true, MinInterval: 10 * time.Second, MaxInterval: time.Hour}
	s, err := New(cfg, 0, devices("r1", "r2"), Dependencies{Runner: runner})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.RunDevice(ctx, "r1")
	require.NoError(t, err)
	_, err = s.RunDevice(ctx, "r2")
	require.NoError(t, err)

	states := s.DeviceStates()
	require.Len(t, states, 2)
	assert.Equal(t, 30*time.Second, states[0].Interval)
	assert.Equal(t, 90*time.Second, states[1].Interval)
	assert.Equal(t, "PIPE-r1", states[0].LastRunID)
	assert.Equal(t, "closed", states[0].Breaker)

	_, err = s.RunDevice(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestOneRunInFlightPerDevice(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	s, err := New(config.SchedulerConfig{Workers: 4, PollInterval: time.Minute}, 0, devices("r1"), Dependencies{Runner: runner})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunDevice(context.Background(), "r1")
		done <- err
	}()
	require.Eventually(t, func() bool { return runner.active.Load() == 1 }, time.Second, time.Millisecond)

	_, err = s.RunDevice(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrRunInFlight)
	assert.True(t, s.DeviceStates()[0].Running)

	close(runner.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, runner.callCount("r1"))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	runner := newFakeRunner()
	runner.status["r1"] = models.RunFailed
	cfg := config.SchedulerConfig{
		Workers:      1,
		PollInterval: time.Minute,
		Breaker:      config.BreakerConfig{FailureThreshold: 2, Recovery: 50 * time.Millisecond, HalfOpenMaxCalls: 1},
	}
	s, err := New(cfg, 0, devices("r1"), Dependencies{Runner: runner})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		run, err := s.RunDevice(ctx, "r1")
		require.NoError(t, err, "a failed run is data, not an error")
		assert.Equal(t, models.RunFailed, run.Status)
	}
	assert.Equal(t, "open", s.DeviceStates()[0].Breaker)
	assert.Equal(t, 2, s.DeviceStates()[0].ConsecutiveFailures)

	_, err = s.RunDevice(ctx, "r1")
	assert.True(t, errors.Is(err, ErrBreakerOpen))
	assert.Equal(t, 2, runner.callCount("r1"), "open breaker must not run the pipeline")

	time.Sleep(80 * time.Millisecond)
	runner.mu.Lock()
	runner.status["r1"] = models.RunCompleted
	runner.mu.Unlock()

	run, err := s.RunDevice(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, "closed", s.DeviceStates()[0].Breaker)
	assert.Equal(t, 0, s.DeviceStates()[0].ConsecutiveFailures)
}

func TestRunAllRespectsWorkerLimit(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = 20 * time.Millisecond
	s, err := New(config.SchedulerConfig{Workers: 2, PollInterval: time.Minute}, 0, devices("a", "b", "c", "d", "e"), Dependencies{Runner: runner})
	require.NoError(t, err)

	runs := s.RunAll(context.Background())
	require.Len(t, runs, 5)
	assert.Equal(t, "a", runs[0].DeviceID)
	assert.Equal(t, "e", runs[4].DeviceID)
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
}

func TestRunDeviceHoldsWorkerSlot(t *testing.T) {
	runner := newFakeRunner()
	runner.release = make(chan struct{})
	s, err := New(config.SchedulerConfig{Workers: 1, PollInterval: time.Minute}, 0, devices("r1", "r2"), Dependencies{Runner: runner})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []string{"r1", "r2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RunDevice(context.Background(), id)
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return runner.active.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), runner.active.Load(), "second operator run must wait for the worker slot")

	close(runner.release)
	wg.Wait()
	assert.Equal(t, int32(1), runner.peak.Load())
	assert.Equal(t, 1, runner.callCount("r1"))
	assert.Equal(t, 1, runner.callCount("r2"))
}

type offlineCall struct {
	device   string
	failures int
}

type fakeOffline struct {
	mu        sync.Mutex
	offline   []offlineCall
	recovered []string
}

func (f *fakeOffline) DeviceOffline(_ context.Context, device models.Device, failures int) (models.AlertDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = append(f.offline, offlineCall{device: device.ID, failures: failures})
	return models.AlertDecision{Kind: models.DecisionCreated}, nil
}

func (f *fakeOffline) DeviceRecovered(_ context.Context, deviceID string) (models.Alert, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered = append(f.recovered, deviceID)
	return models.Alert{}, true, nil
}

func TestOfflineAfterConsecutiveUnreachableRuns(t *testing.T) {
	runner := newFakeRunner()
	runner.status["r1"] = models.RunFailed
	reporter := &fakeOffline{}
	cfg := config.SchedulerConfig{
		Workers:      1,
		PollInterval: time.Minute,
		OfflineAfter: 2,
		Breaker:      config.BreakerConfig{FailureThreshold: 10},
	}
	s, err := New(cfg, 0, devices("r1"), Dependencies{Runner: runner, Offline: reporter})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.RunDevice(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, reporter.offline)
	assert.False(t, s.DeviceStates()[0].Offline)

	for i := 0; i < 2; i++ {
		_, err = s.RunDevice(ctx, "r1")
		require.NoError(t, err)
	}
	assert.Equal(t, []offlineCall{{"r1", 2}, {"r1", 3}}, reporter.offline)
	assert.True(t, s.DeviceStates()[0].Offline)
	assert.Empty(t, reporter.recovered)

	runner.mu.Lock()
	runner.status["r1"] = models.RunCompleted
	runner.mu.Unlock()
	for i := 0; i < 2; i++ {
		_, err = s.RunDevice(ctx, "r1")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"r1"}, reporter.recovered, "recovery is reported once")
	assert.False(t, s.DeviceStates()[0].Offline)
}

func TestNewRejectsDuplicateDevices(t *testing.T) {
	_, err := New(config.SchedulerConfig{}, 0, devices("r1", "r1"), Dependencies{Runner: newFakeRunner()})
	assert.Error(t, err)
	_, err = New(config.SchedulerConfig{}, 0, nil, Dependencies{})
	assert.Error(t, err)
}

type fakeAlerts struct{ escalations, resolved int }

func (f *fakeAlerts) EvaluateEscalations(context.Context) []models.Alert {
	return make([]models.Alert, f.escalations)
}

func (f *fakeAlerts) AutoResolve(context.Context) []models.Alert {
	return make([]models.Alert, f.resolved)
}

type fakeIncidents struct {
	expire []models.Incident
	closed []models.Incident
}

func (f *fakeIncidents) CloseExpired() []models.Incident {
	out := f.expire
	f.closed = append(f.closed, out...)
	f.expire = nil
	return out
}

func (f *fakeIncidents) Open() []models.Incident { return nil }

func (f *fakeIncidents) Closed(int) []models.Incident { return f.closed }

type recordingStore struct{ upserts []string }

func (r *recordingStore) UpsertIncident(_ context.Context, inc models.Incident) error {
	r.upserts = append(r.upserts, inc.ID)
	return nil
}

type minerFunc func(ctx context.Context, incidents []models.Incident) ([]models.Hotspot, error)

func (f minerFunc) Mine(ctx context.Context, incidents []models.Incident) ([]models.Hotspot, error) {
	return f(ctx, incidents)
}

func TestTickRunsMaintenance(t *testing.T) {
	incidents := &fakeIncidents{expire: []models.Incident{
		{ID: "INC-1", Status: models.IncidentClosed, DeviceIDs: []string{"r1"}},
		{ID: "INC-2", Status: models.IncidentClosed, DeviceIDs: []string{"r1", "r2"}},
	}}
	store := &recordingStore{}
	var mined int
	s, err := New(config.SchedulerConfig{}, time.Second, devices("r1"), Dependencies{
		Runner:    newFakeRunner(),
		Alerts:    &fakeAlerts{escalations: 1, resolved: 2},
		Incidents: incidents,
		Store:     store,
		Miner: minerFunc(func(_ context.Context, in []models.Incident) ([]models.Hotspot, error) {
			mined = len(in)
			return []models.Hotspot{{DeviceID: "r1"}, {DeviceID: "r2"}}, nil
		}),
	})
	require.NoError(t, err)

	res := s.Tick(context.Background())
	assert.Equal(t, TickResult{Escalated: 1, AutoResolved: 2, ClosedIncidents: 2, Hotspots: 2}, res)
	assert.Equal(t, []string{"INC-1", "INC-2"}, store.upserts)
	assert.Equal(t, 2, mined)

	res = s.Tick(context.Background())
	assert.Equal(t, 0, res.ClosedIncidents)
	assert.Equal(t, 0, res.Hotspots, "mining only runs after incidents close")
}

func TestTickPrunesOncePerInterval(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	store := repo.NewMemoryStore(0)
	ctx := context.Background()
	old := clk.Now().Add(-48 * time.Hour)
	require.NoError(t, store.StoreRun(ctx, models.PipelineRun{ID: "PIPE-1", DeviceID: "r1", StartedAt: old}))
	require.NoError(t, store.StoreMetrics(ctx, []models.Metric{{DeviceID: "r1", Variable: "cpu_usage", Value: 1, Timestamp: old}}))

	s, err := New(config.SchedulerConfig{}, time.Second, devices("r1"), Dependencies{
		Runner:    newFakeRunner(),
		Pruner:    store,
		Retention: config.RetentionConfig{Metrics: 24 * time.Hour, Runs: 24 * time.Hour, Interval: time.Hour},
		Clock:     clk,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), s.Tick(ctx).Pruned)
	_, err = store.GetRun(ctx, "PIPE-1")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	require.NoError(t, store.StoreRun(ctx, models.PipelineRun{ID: "PIPE-2", DeviceID: "r1", StartedAt: old}))
	clk.Add(30 * time.Minute)
	assert.Zero(t, s.Tick(ctx).Pruned, "not due before the interval elapses")

	clk.Add(30 * time.Minute)
	assert.Equal(t, int64(1), s.Tick(ctx).Pruned)
}

func TestStartStopsOnCancel(t *testing.T) {
	s, err := New(config.SchedulerConfig{PollInterval: time.Hour}, time.Hour, devices("r1"), Dependencies{Runner: newFakeRunner()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}

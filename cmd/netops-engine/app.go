package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.uber.org/multierr"

	"github.com/miradorstack/mirador-netops/internal/alerting"
	"github.com/miradorstack/mirador-netops/internal/cache"
	"github.com/miradorstack/mirador-netops/internal/collector"
	"github.com/miradorstack/mirador-netops/internal/config"
	"github.com/miradorstack/mirador-netops/internal/correlation"
	"github.com/miradorstack/mirador-netops/internal/detectors"
	"github.com/miradorstack/mirador-netops/internal/engine"
	"github.com/miradorstack/mirador-netops/internal/health"
	"github.com/miradorstack/mirador-netops/internal/models"
	"github.com/miradorstack/mirador-netops/internal/notify"
	"github.com/miradorstack/mirador-netops/internal/plugins"
	"github.com/miradorstack/mirador-netops/internal/report"
	"github.com/miradorstack/mirador-netops/internal/repo"
	"github.com/miradorstack/mirador-netops/internal/scheduler"
	"github.com/miradorstack/mirador-netops/internal/services"
)

// application holds the wired engine components shared by serve and run.
type application struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        repo.Store
	cache        cache.Provider
	graphCloser  func(context.Context) error
	alerts       *alerting.Engine
	correlator   *correlation.Engine
	orchestrator *engine.Orchestrator
	scheduler    *scheduler.Scheduler
	service      *services.OperatorService
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{cfg: cfg, logger: logger}
	clk := clock.New()

	store, err := repo.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.store = store

	app.cache = newCache(cfg.Cache, clk, logger)

	graph, err := app.newGraph(ctx)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	dialer, err := collector.NewSSHDialer(cfg.Collector)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("ssh dialer: %w", err)
	}
	coll := collector.New(dialer, cfg.Collector, logger)

	registry := plugins.NewRegistry()
	loaded, err := registry.LoadDir(cfg.Plugins.Dir)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("load plugins: %w", err)
	}
	if len(loaded) > 0 {
		logger.Info("plugins loaded", slog.String("os_types", strings.Join(loaded, ",")))
	}

	detectorSet, err := detectors.NewSet(cfg.Detectors, logger)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("detectors: %w", err)
	}

	scorer := health.NewScorer(cfg.Health)
	scorer.Merge(registry.Schemas().HealthVariables())

	app.correlator = correlation.NewEngine(cfg.Correlation, clk, logger)

	mux := notify.NewMux()
	mux.Register("log", notify.NewLogNotifier(logger))
	if len(cfg.Notify.Webhooks) > 0 {
		mux.Register("webhook", notify.NewWebhookNotifier(cfg.Notify.Webhooks, cfg.Notify.Timeout))
	}

	app.alerts, err = alerting.NewEngine(cfg.Alerting, alerting.Dependencies{
		Notifier: mux,
		Cache:    app.cache,
		Store:    store,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("alerting: %w", err)
	}
	if restored, err := store.ListAlerts(ctx, 0); err != nil {
		logger.Warn("restore alerts failed", slog.Any("error", err))
	} else if len(restored) > 0 {
		app.alerts.Restore(restored)
		logger.Info("alerts restored", slog.Int("count", len(restored)))
	}

	devices := cfg.Inventory.Devices
	lookup := func(id string) (models.Device, bool) {
		for _, d := range devices {
			if d.ID == id {
				return d, true
			}
		}
		return models.Device{}, false
	}

	deps := engine.Dependencies{
		Collector:  coll,
		Plugins:    registry,
		Analyzer:   detectorSet,
		Health:     scorer,
		Correlator: app.correlator,
		Alerter:    app.alerts,
		Store:      store,
		Graph:      graph,
		Devices:    lookup,
		Clock:      clk,
		Logger:     logger,
		Tracer:     otel.Tracer("mirador-netops/engine"),
	}
	if cfg.Pipeline.ReportDir != "" {
		deps.Writer = report.NewFileWriter(cfg.Pipeline.ReportDir)
	}
	app.orchestrator, err = engine.NewOrchestrator(cfg.Pipeline, deps)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	app.scheduler, err = scheduler.New(cfg.Scheduler, cfg.Alerting.EscalationTick, devices, scheduler.Dependencies{
		Runner:    app.orchestrator,
		Alerts:    app.alerts,
		Incidents: app.correlator,
		Miner:     report.NewMiner(logger, store),
		Store:     store,
		Offline:   app.alerts,
		Pruner:    store,
		Retention: cfg.Store.Retention,
		Clock:     clk,
		Logger:    logger,
	})
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	app.service = services.NewOperatorService(logger, app.scheduler, app.alerts, app.correlator, store).
		WithGroupScorer(scorer).
		WithStageLatencies(app.orchestrator)
	return app, nil
}

func newCache(cfg config.CacheConfig, clk clock.Clock, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled || cfg.Addr == "" {
		return cache.NewMemoryProvider(clk)
	}
	provider, err := cache.NewRedisProvider(cache.RedisConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
		KeyPrefix:    cfg.KeyPrefix,
	})
	if err != nil {
		logger.Warn("redis cache unavailable, cooldowns stay local", slog.Any("error", err))
		return cache.NewMemoryProvider(clk)
	}
	return provider
}

func (a *application) newGraph(ctx context.Context) (repo.GraphProvider, error) {
	cfg := a.cfg.Graph
	switch strings.ToLower(cfg.Provider) {
	case "", "static":
		return repo.NewStaticGraph(a.cfg.Inventory.Devices), nil
	case "neo4j":
		g, err := repo.NewNeo4jGraph(ctx, cfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("neo4j graph: %w", err)
		}
		a.graphCloser = g.Close
		if cfg.SyncInventory {
			if err := g.SyncDevices(ctx, a.cfg.Inventory.Devices); err != nil {
				a.logger.Warn("inventory sync to graph failed", slog.Any("error", err))
			}
		}
		return repo.NewCachedGraph(g, a.cache, cfg.RefreshInterval, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown graph provider %q", cfg.Provider)
	}
}

// Close releases the store, cache and graph connections.
func (a *application) Close(ctx context.Context) {
	var errs error
	if a.graphCloser != nil {
		errs = multierr.Append(errs, a.graphCloser(ctx))
	}
	if a.cache != nil {
		errs = multierr.Append(errs, a.cache.Close())
	}
	if a.store != nil {
		errs = multierr.Append(errs, a.store.Close())
	}
	if errs != nil {
		a.logger.Warn("shutdown incomplete", slog.Any("error", errs))
	}
}

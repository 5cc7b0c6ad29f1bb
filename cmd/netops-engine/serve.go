package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-netops/internal/api"
	"github.com/miradorstack/mirador-netops/internal/metrics"
)

func newServeCommand(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the scheduler and the operator gRPC API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), st)
		},
	}
}

func serve(parent context.Context, st *cliState) error {
	cfg, logger := st.cfg, st.logger
	logger.Info("starting mirador-netops",
		slog.String("address", cfg.Server.Address),
		slog.Int("devices", len(cfg.Inventory.Devices)))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		return err
	}

	shutdownTracing, err := setupTracing(cfg.Tracing)
	if err != nil {
		logger.Error("failed to set up tracing", slog.Any("error", err))
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build engine", slog.Any("error", err))
		return err
	}

	server, err := api.NewServer(cfg.Server, app.service)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		app.Close(context.Background())
		return err
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := app.scheduler.Start(ctx); err != nil {
			logger.Error("scheduler exited", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before the graceful timeout")
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", slog.Any("error", err))
	}
	app.Close(shutdownCtx)
	logger.Info("mirador-netops stopped")
	return nil
}

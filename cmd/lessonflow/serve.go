package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/lessonflow/internal/http"
	"github.com/fyrsmithlabs/lessonflow/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring server and periodic health checks",
	Long: `Start the monitoring HTTP server and the periodic health check loop.

Endpoints:
  /health                 liveness
  /metrics                Prometheus metrics
  /api/v1/health          full health check
  /api/v1/dashboard       dashboard aggregate (?window=24h)
  /api/v1/stages/:stage   one stage (?window=1h)
  /api/v1/alerts          recent alerts (?hours=24&severity=error,critical)

The server stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	a.logger.Info(ctx, "starting lessonflow",
		zap.String("version", version),
		zap.String("db", a.db.Path()),
		zap.Int("restored_outcomes", a.outcomes.Len()),
		zap.Strings("alert_handlers", a.alerts.Handlers()))

	svc := a.newMonitor()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(a.outcomes, a.cfg.Alerts.ErrorRateWindow.Duration()),
	)

	zl := a.logger.Underlying()
	srv, err := httpserver.NewServer(svc, registry, zl,
		&httpserver.Config{Host: a.cfg.Server.Host, Port: a.cfg.Server.Port},
		httpserver.WithHTTPMetrics(httpserver.NewHTTPMetrics(zl, a.telemetry.Meter(instrumentationName))),
	)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- svc.Run(ctx, a.cfg.Monitor.Interval.Duration())
	}()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info(context.Background(), "received shutdown signal")
	case serveErr = <-serverDone:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn(shutdownCtx, "http server shutdown failed", zap.Error(err))
	}

	if err := <-monitorDone; err != nil {
		return fmt.Errorf("health check loop: %w", err)
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	a.logger.Info(shutdownCtx, "shutdown complete")
	return nil
}

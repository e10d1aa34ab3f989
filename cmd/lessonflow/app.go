package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/lessonflow/internal/alerts"
	"github.com/fyrsmithlabs/lessonflow/internal/config"
	"github.com/fyrsmithlabs/lessonflow/internal/inference"
	"github.com/fyrsmithlabs/lessonflow/internal/logging"
	"github.com/fyrsmithlabs/lessonflow/internal/metrics"
	"github.com/fyrsmithlabs/lessonflow/internal/monitor"
	"github.com/fyrsmithlabs/lessonflow/internal/pipeline"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
	"github.com/fyrsmithlabs/lessonflow/internal/storage"
	"github.com/fyrsmithlabs/lessonflow/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/lessonflow"

// app holds the dependencies shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	db        *storage.Store
	outcomes  *metrics.Store
	alerts    *alerts.Manager
	nc        *nats.Conn
}

type appOptions struct {
	// quiet raises the log level to warn unless --verbose is set
	quiet bool
}

// newApp loads configuration and wires logging, telemetry, storage, the
// metrics store and the alert manager. Persisted outcomes and alerts inside
// their retention windows are restored before it returns.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}

	tcfg := telemetry.NewDefaultConfig()
	if err := cfg.Section("telemetry", tcfg); err != nil {
		return nil, err
	}
	tel, err := telemetry.New(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg, tel, opts.quiet && !verbose)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel}
	if err := a.init(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry, quiet bool) (*logging.Logger, error) {
	lcfg := logging.NewDefaultConfig()
	if err := cfg.Section("logging", lcfg); err != nil {
		return nil, err
	}
	if quiet && lcfg.Level < zapcore.WarnLevel {
		lcfg.Level = zapcore.WarnLevel
	}
	return logging.NewLogger(lcfg, tel.LoggerProvider())
}

func (a *app) init(ctx context.Context) error {
	db, err := storage.Open(ctx, a.cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	a.db = db

	a.outcomes = metrics.NewStore(
		metrics.WithCapacity(a.cfg.Metrics.Capacity),
		metrics.WithSink(db),
		metrics.WithLogger(a.logger.Named("metrics")),
	)
	a.alerts = alerts.NewManager(alerts.Config{
		ErrorRateThreshold: a.cfg.Alerts.ErrorRateThreshold,
		ErrorRateWindow:    a.cfg.Alerts.ErrorRateWindow.Duration(),
		LogCapacity:        a.cfg.Alerts.LogCapacity,
	}, a.outcomes,
		alerts.WithLogger(a.logger.Named("alerts")),
		alerts.WithMeter(a.telemetry.Meter(instrumentationName)),
	)

	if err := a.restore(ctx); err != nil {
		return err
	}
	return a.registerHandlers()
}

// restore warm-starts the in-memory stores from SQLite. It runs before any
// handler is registered so restored alerts are not persisted twice.
func (a *app) restore(ctx context.Context) error {
	now := time.Now()

	outs, err := a.db.OutcomesSince(ctx, now.Add(-a.cfg.Metrics.Retention.Duration()))
	if err != nil {
		return fmt.Errorf("failed to restore outcomes: %w", err)
	}
	a.outcomes.Restore(outs)

	als, err := a.db.AlertsSince(ctx, now.Add(-a.cfg.Alerts.Retention.Duration()))
	if err != nil {
		return fmt.Errorf("failed to restore alerts: %w", err)
	}
	a.alerts.Restore(als)

	a.logger.Debug(ctx, "restored state",
		zap.String("db", a.db.Path()),
		zap.Int("outcomes", len(outs)),
		zap.Int("alerts", len(als)))
	return nil
}

func (a *app) registerHandlers() error {
	a.alerts.RegisterHandler("sqlite", a.db.AlertHandler())

	if a.cfg.Alerts.Console {
		a.alerts.RegisterHandler("console", alerts.ConsoleHandler(os.Stderr))
	}

	if !a.cfg.NATS.Enabled {
		return nil
	}
	nc, err := nats.Connect(a.cfg.NATS.URL,
		nats.Name("lessonflow"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", a.cfg.NATS.URL, err)
	}
	a.nc = nc
	a.alerts.RegisterHandler("nats", alerts.NATSHandler(nc, a.cfg.NATS.SubjectPrefix))
	a.logger.Info(context.Background(), "publishing alerts to NATS",
		zap.String("url", a.cfg.NATS.URL),
		zap.String("subject_prefix", a.cfg.NATS.SubjectPrefix))
	return nil
}

// newPipeline builds an orchestrator over the hosted inference models.
func (a *app) newPipeline(progress pipeline.ProgressCallback) (*pipeline.Orchestrator, error) {
	client, err := inference.NewClient(a.cfg.Inference, inference.WithLogger(a.logger.Named("inference")))
	if err != nil {
		return nil, fmt.Errorf("failed to create inference client: %w", err)
	}
	models := inference.NewModels(client, a.cfg.Inference.Models, a.cfg.Storage.AudioDir)
	return a.buildPipeline(models, a.cfg.Pipeline.BackoffUnit.Duration(), progress)
}

// buildPipeline wires models into an orchestrator with the configured
// retry policy, quality gate, stores and telemetry.
func (a *app) buildPipeline(models pipeline.Models, backoffUnit time.Duration, progress pipeline.ProgressCallback) (*pipeline.Orchestrator, error) {
	p := a.cfg.Pipeline
	tracer := a.telemetry.Tracer(instrumentationName)
	exec := stage.NewExecutor(stage.Policy{
		MaxRetries:       p.MaxRetries,
		BackoffBase:      p.BackoffBase,
		BackoffUnit:      backoffUnit,
		AttemptTimeout:   p.StageTimeout.Duration(),
		RetryQualityGate: p.RetryQualityGate,
	}, stage.WithLogger(a.logger.Named("stage")), stage.WithTracer(tracer))

	opts := []pipeline.Option{
		pipeline.WithQualityThreshold(p.QualityThreshold),
		pipeline.WithRecorder(a.outcomes),
		pipeline.WithAlerts(a.alerts),
		pipeline.WithContentStore(a.db),
		pipeline.WithLogger(a.logger.Named("pipeline")),
		pipeline.WithTelemetry(tracer, a.telemetry.Meter(instrumentationName)),
	}
	if progress != nil {
		opts = append(opts, pipeline.OnProgress(progress))
	}
	return pipeline.New(models, exec, opts...)
}

// newMonitor builds the health check service, pruning SQLite alongside the
// in-memory stores.
func (a *app) newMonitor() *monitor.Service {
	return monitor.NewService(a.outcomes, a.alerts,
		monitor.WithLogger(a.logger.Named("monitor")),
		monitor.WithPruner(a.db),
		monitor.WithRetention(monitor.Retention{
			Metrics: a.cfg.Metrics.Retention.Duration(),
			Alerts:  a.cfg.Alerts.Retention.Duration(),
		}),
	)
}

// Close releases every resource in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn(ctx, "shutdown incomplete", zap.Error(err))
	}
	_ = a.logger.Sync()
}

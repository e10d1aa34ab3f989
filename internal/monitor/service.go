// Package monitor turns stage outcomes and alerts into health reports and
// dashboards, runs the periodic health check loop, and renders both for
// terminals.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessonflow/internal/alerts"
	"github.com/fyrsmithlabs/lessonflow/internal/clock"
	"github.com/fyrsmithlabs/lessonflow/internal/logging"
	"github.com/fyrsmithlabs/lessonflow/internal/metrics"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

// Status is the overall pipeline health classification.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// criticalStageAlerts is the number of stage alerts above which a check is
// critical even without an overall alert.
const criticalStageAlerts = 2

const (
	healthWindow = time.Hour
	retryWindow  = 24 * time.Hour
)

// HealthReport is the result of one health check.
type HealthReport struct {
	Status        Status               `json:"status"`
	Timestamp     time.Time            `json:"timestamp"`
	ErrorAlerts   int                  `json:"error_alerts"`
	OverallAlert  bool                 `json:"overall_alert"`
	ErrorRates    map[stage.ID]float64 `json:"error_rates"`
	Throughput    int                  `json:"throughput"`
	SuccessRate   float64              `json:"success_rate"`
	Retries       metrics.RetryStats   `json:"retry_stats"`
	QualityScores map[string]float64   `json:"quality_scores"`
}

// DashboardData is the dashboard aggregate plus the alerts raised in the
// same window.
type DashboardData struct {
	metrics.Dashboard
	RecentAlerts []alerts.Alert `json:"recent_alerts"`
}

// StageHealth summarizes one stage over a window.
type StageHealth struct {
	Stage             stage.ID  `json:"stage"`
	SuccessRate       float64   `json:"success_rate"`
	ErrorRate         float64   `json:"error_rate"`
	AvgProcessingTime float64   `json:"avg_processing_time_ms"`
	Throughput        int       `json:"throughput"`
	TimeWindow        string    `json:"time_window"`
	Timestamp         time.Time `json:"timestamp"`
}

// Pruner deletes persisted outcomes and alerts recorded before cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (outcomes, alerts int64, err error)
}

// Retention bounds how long outcomes and alerts are kept.
type Retention struct {
	Metrics time.Duration
	Alerts  time.Duration
}

// Service runs health checks against a metrics store and alert manager.
type Service struct {
	store     *metrics.Store
	alerts    *alerts.Manager
	clock     clock.Clock
	logger    *logging.Logger
	pruner    Pruner
	retention Retention
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for timestamps and the check loop.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPruner also prunes durable storage on every check.
func WithPruner(p Pruner) Option {
	return func(s *Service) { s.pruner = p }
}

// WithRetention enables pruning of data older than the given ages. Zero
// ages disable pruning for that kind of data.
func WithRetention(r Retention) Option {
	return func(s *Service) { s.retention = r }
}

// NewService returns a Service over store and mgr.
func NewService(store *metrics.Store, mgr *alerts.Manager, opts ...Option) *Service {
	s := &Service{
		store:  store,
		alerts: mgr,
		clock:  clock.New(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HealthCheck checks every stage and the overall error rate, raising alerts
// for breaches, and classifies the result. More than two stage alerts or an
// overall alert is critical; any stage alert is degraded.
func (s *Service) HealthCheck(ctx context.Context) HealthReport {
	stageAlerts := s.alerts.CheckErrorRates(ctx)
	_, overall := s.alerts.CheckOverallErrorRate(ctx)

	d := s.store.Dashboard(healthWindow)

	status := StatusHealthy
	switch {
	case overall || len(stageAlerts) > criticalStageAlerts:
		status = StatusCritical
	case len(stageAlerts) > 0:
		status = StatusDegraded
	}

	success := 1.0
	if d.TotalRequests > 0 {
		success = float64(d.SuccessfulRequests) / float64(d.TotalRequests)
	}

	return HealthReport{
		Status:        status,
		Timestamp:     s.clock.Now(),
		ErrorAlerts:   len(stageAlerts),
		OverallAlert:  overall,
		ErrorRates:    d.ErrorRates,
		Throughput:    d.TotalRequests,
		SuccessRate:   success,
		Retries:       s.store.RetryStatistics(retryWindow),
		QualityScores: d.QualityScores,
	}
}

// Dashboard returns the dashboard aggregate and recent alerts for window.
func (s *Service) Dashboard(window time.Duration) DashboardData {
	return DashboardData{
		Dashboard:    s.store.Dashboard(window),
		RecentAlerts: s.alerts.Recent(window),
	}
}

// RecentAlerts returns alerts raised within window, filtered by severity
// when any are given.
func (s *Service) RecentAlerts(window time.Duration, severities ...alerts.Severity) []alerts.Alert {
	return s.alerts.Recent(window, severities...)
}

// StageHealth summarizes one stage over window.
func (s *Service) StageHealth(id stage.ID, window time.Duration) (StageHealth, error) {
	if !id.Valid() {
		return StageHealth{}, fmt.Errorf("unknown stage %q", id)
	}
	return StageHealth{
		Stage:             id,
		SuccessRate:       s.store.SuccessRate(id, window),
		ErrorRate:         s.store.ErrorRate(id, window),
		AvgProcessingTime: float64(s.store.AverageDuration(id, window)) / float64(time.Millisecond),
		Throughput:        s.store.Throughput(window)[id],
		TimeWindow:        metrics.FormatWindow(window),
		Timestamp:         s.clock.Now(),
	}, nil
}

// Run performs a health check every interval until ctx is done. Each pass
// also prunes data past its retention.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("health check interval must be positive, got %s", interval)
	}
	s.logger.Info(ctx, "starting periodic health checks", zap.Duration("interval", interval))

	for {
		report := s.HealthCheck(ctx)
		s.logger.Info(ctx, "health check complete",
			zap.String("status", string(report.Status)),
			zap.Int("throughput", report.Throughput),
			zap.Float64("success_rate", report.SuccessRate),
			zap.Int("error_alerts", report.ErrorAlerts),
		)
		s.prune(ctx)

		if err := s.clock.Sleep(ctx, interval); err != nil {
			s.logger.Info(ctx, "periodic health checks stopped")
			return nil
		}
	}
}

func (s *Service) prune(ctx context.Context) {
	if s.retention.Metrics > 0 {
		s.store.Prune(ctx, s.retention.Metrics)
	}
	if s.retention.Alerts > 0 {
		s.alerts.ClearOld(ctx, s.retention.Alerts)
	}
	if s.pruner == nil {
		return
	}

	oldest := max(s.retention.Metrics, s.retention.Alerts)
	if oldest <= 0 {
		return
	}
	outs, als, err := s.pruner.Prune(ctx, s.clock.Now().Add(-oldest))
	if err != nil {
		s.logger.Warn(ctx, "failed to prune storage", zap.Error(err))
		return
	}
	if outs > 0 || als > 0 {
		s.logger.Info(ctx, "pruned storage", zap.Int64("outcomes", outs), zap.Int64("alerts", als))
	}
}

package alerts

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/lessonflow/internal/clock"
	"github.com/fyrsmithlabs/lessonflow/internal/logging"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

const instrumentationName = "github.com/fyrsmithlabs/lessonflow/internal/alerts"

// Defaults for Config.
const (
	DefaultErrorRateThreshold = 0.10
	DefaultErrorRateWindow    = time.Hour
	DefaultLogCapacity        = 10_000

	// escalateAfterRetries is the retry count at which a stage failure
	// escalates from Warning to Error.
	escalateAfterRetries = 3
)

// RateSource answers windowed error-rate queries. An empty stage id
// aggregates all stages.
type RateSource interface {
	ErrorRate(id stage.ID, window time.Duration) float64
}

// Handler receives every raised alert.
type Handler func(ctx context.Context, a Alert) error

// Config holds alert thresholds.
type Config struct {
	ErrorRateThreshold float64
	ErrorRateWindow    time.Duration
	LogCapacity        int
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{
		ErrorRateThreshold: DefaultErrorRateThreshold,
		ErrorRateWindow:    DefaultErrorRateWindow,
		LogCapacity:        DefaultLogCapacity,
	}
}

type namedHandler struct {
	name string
	fn   Handler
}

// Manager evaluates thresholds, records alerts in a bounded log, and
// dispatches them to registered handlers in registration order.
type Manager struct {
	cfg    Config
	rates  RateSource
	clock  clock.Clock
	logger *logging.Logger
	raised metric.Int64Counter
	failed metric.Int64Counter

	mu       sync.RWMutex
	log      []Alert
	handlers []namedHandler
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for alert timestamps and log windows.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the manager logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMeter records raised alerts and handler failures as counters.
func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) { m.initMetrics(meter) }
}

// NewManager creates a manager reading error rates from rates.
func NewManager(cfg Config, rates RateSource, opts ...Option) *Manager {
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = DefaultLogCapacity
	}
	m := &Manager{
		cfg:    cfg,
		rates:  rates,
		clock:  clock.New(),
		logger: logging.NewNop(),
	}
	m.initMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) initMetrics(meter metric.Meter) {
	var err error
	m.raised, err = meter.Int64Counter("lessonflow.alerts.raised",
		metric.WithDescription("Alerts raised, labeled by type and severity"),
		metric.WithUnit("{alert}"))
	if err != nil {
		m.raised, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("lessonflow.alerts.raised")
	}
	m.failed, err = meter.Int64Counter("lessonflow.alerts.handler_failures",
		metric.WithDescription("Alert handler invocations that returned an error or panicked"),
		metric.WithUnit("{failure}"))
	if err != nil {
		m.failed, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("lessonflow.alerts.handler_failures")
	}
}

// Config returns the manager thresholds.
func (m *Manager) Config() Config { return m.cfg }

// RegisterHandler adds h under name. Registering an existing name replaces
// that handler in place.
func (m *Manager) RegisterHandler(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.handlers {
		if m.handlers[i].name == name {
			m.handlers[i].fn = h
			return
		}
	}
	m.handlers = append(m.handlers, namedHandler{name: name, fn: h})
	m.logger.Info(context.Background(), "registered alert handler", zap.String("handler", name))
}

// Handlers returns registered handler names in dispatch order.
func (m *Manager) Handlers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.handlers))
	for i, h := range m.handlers {
		names[i] = h.name
	}
	return names
}

// CheckErrorRates raises a HighErrorRate alert at Error severity for each
// stage whose error rate over the configured window exceeds the threshold.
// With no stages it checks every stage. Alerts are raised on every call
// while the condition holds.
func (m *Manager) CheckErrorRates(ctx context.Context, stages ...stage.ID) []Alert {
	if len(stages) == 0 {
		stages = stage.All()
	}
	var raised []Alert
	for _, id := range stages {
		rate := m.rates.ErrorRate(id, m.cfg.ErrorRateWindow)
		if rate <= m.cfg.ErrorRateThreshold {
			continue
		}
		raised = append(raised, m.raise(ctx, Alert{
			Type:     TypeHighErrorRate,
			Severity: SeverityError,
			Message: fmt.Sprintf("High error rate detected in %s stage: %.1f%% (threshold: %.1f%%)",
				id, rate*100, m.cfg.ErrorRateThreshold*100),
			Stage:       id,
			MetricValue: ptr(rate),
			Threshold:   ptr(m.cfg.ErrorRateThreshold),
			Metadata:    map[string]any{"window": m.cfg.ErrorRateWindow.String()},
		}))
	}
	return raised
}

// CheckOverallErrorRate raises a Critical HighErrorRate alert when the
// error rate across all stages exceeds the threshold.
func (m *Manager) CheckOverallErrorRate(ctx context.Context) (Alert, bool) {
	rate := m.rates.ErrorRate("", m.cfg.ErrorRateWindow)
	if rate <= m.cfg.ErrorRateThreshold {
		return Alert{}, false
	}
	return m.raise(ctx, Alert{
		Type:     TypeHighErrorRate,
		Severity: SeverityCritical,
		Message: fmt.Sprintf("High overall error rate detected: %.1f%% (threshold: %.1f%%)",
			rate*100, m.cfg.ErrorRateThreshold*100),
		MetricValue: ptr(rate),
		Threshold:   ptr(m.cfg.ErrorRateThreshold),
		Metadata:    map[string]any{"window": m.cfg.ErrorRateWindow.String()},
	}), true
}

// AlertStageFailure reports a stage that exhausted its retries. Failures
// with fewer than three retries are Warnings, otherwise Errors.
func (m *Manager) AlertStageFailure(ctx context.Context, id stage.ID, runID, errMsg string, retryCount int) Alert {
	sev := SeverityWarning
	if retryCount >= escalateAfterRetries {
		sev = SeverityError
	}
	return m.raise(ctx, Alert{
		Type:     TypeStageFailure,
		Severity: sev,
		Message:  fmt.Sprintf("Stage %s failed for run %s: %s", id, runID, errMsg),
		Stage:    id,
		Metadata: map[string]any{
			"run_id":        runID,
			"error_message": errMsg,
			"retry_count":   retryCount,
		},
	})
}

// AlertQualityThreshold reports a score below its quality gate.
func (m *Manager) AlertQualityThreshold(ctx context.Context, runID, metricName string, score, threshold float64) Alert {
	return m.raise(ctx, Alert{
		Type:     TypeQualityThreshold,
		Severity: SeverityWarning,
		Message: fmt.Sprintf("Quality threshold not met for run %s: %s=%.2f (threshold: %.2f)",
			runID, metricName, score, threshold),
		Stage:       stage.Validation,
		MetricValue: ptr(score),
		Threshold:   ptr(threshold),
		Metadata: map[string]any{
			"run_id":      runID,
			"metric_name": metricName,
		},
	})
}

// AlertProcessingTimeout reports a stage attempt that exceeded its timeout.
func (m *Manager) AlertProcessingTimeout(ctx context.Context, id stage.ID, runID string, timeout time.Duration) Alert {
	return m.raise(ctx, Alert{
		Type:      TypeProcessingTimeout,
		Severity:  SeverityError,
		Message:   fmt.Sprintf("Stage %s timed out for run %s after %s", id, runID, timeout),
		Stage:     id,
		Threshold: ptr(timeout.Seconds()),
		Metadata: map[string]any{
			"run_id":  runID,
			"timeout": timeout.String(),
		},
	})
}

// raise stamps a, records it, logs it, and dispatches it to every handler.
func (m *Manager) raise(ctx context.Context, a Alert) Alert {
	a.ID = uuid.NewString()
	a.Timestamp = m.clock.Now()

	m.mu.Lock()
	m.log = append(m.log, a)
	if over := len(m.log) - m.cfg.LogCapacity; over > 0 {
		m.log = slices.Delete(m.log, 0, over)
	}
	handlers := slices.Clone(m.handlers)
	m.mu.Unlock()

	m.raised.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(a.Type)),
		attribute.String("severity", a.Severity.String())))

	m.logAlert(ctx, a)

	for _, h := range handlers {
		m.dispatch(ctx, h, a.Clone())
	}
	return a.Clone()
}

func (m *Manager) logAlert(ctx context.Context, a Alert) {
	fields := []zap.Field{
		zap.String("alert.id", a.ID),
		zap.String("alert.type", string(a.Type)),
		zap.Stringer("alert.severity", a.Severity),
		zap.String("alert.message", a.Message),
	}
	if a.Stage != "" {
		fields = append(fields, zap.String("alert.stage", string(a.Stage)))
	}
	switch logLevel(a.Severity) {
	case zapcore.ErrorLevel:
		m.logger.Error(ctx, "alert raised", fields...)
	case zapcore.WarnLevel:
		m.logger.Warn(ctx, "alert raised", fields...)
	default:
		m.logger.Info(ctx, "alert raised", fields...)
	}
}

// dispatch runs one handler, isolating its errors and panics.
func (m *Manager) dispatch(ctx context.Context, h namedHandler, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.handlerFailed(ctx, h.name, a, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := h.fn(ctx, a); err != nil {
		m.handlerFailed(ctx, h.name, a, err)
	}
}

func (m *Manager) handlerFailed(ctx context.Context, name string, a Alert, err error) {
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("handler", name)))
	m.logger.Error(ctx, "alert handler failed",
		zap.String("handler", name),
		zap.String("alert.id", a.ID),
		zap.Error(err))
}

func logLevel(s Severity) zapcore.Level {
	switch s {
	case SeverityCritical, SeverityError:
		return zapcore.ErrorLevel
	case SeverityWarning:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Recent returns alerts raised within window of now, oldest first. When
// severities are given only alerts with one of them are returned.
func (m *Manager) Recent(window time.Duration, severities ...Severity) []Alert {
	cutoff := m.clock.Now().Add(-window)

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Alert
	for _, a := range m.log {
		if a.Timestamp.Before(cutoff) {
			continue
		}
		if len(severities) > 0 && !slices.Contains(severities, a.Severity) {
			continue
		}
		out = append(out, a.Clone())
	}
	return out
}

// ClearOld removes alerts older than maxAge and returns how many were removed.
func (m *Manager) ClearOld(ctx context.Context, maxAge time.Duration) int {
	cutoff := m.clock.Now().Add(-maxAge)

	m.mu.Lock()
	before := len(m.log)
	m.log = slices.DeleteFunc(m.log, func(a Alert) bool { return a.Timestamp.Before(cutoff) })
	cleared := before - len(m.log)
	m.mu.Unlock()

	if cleared > 0 {
		m.logger.Info(ctx, "cleared old alerts", zap.Int("cleared", cleared))
	}
	return cleared
}

// Restore loads previously persisted alerts into the log without
// dispatching them.
func (m *Manager) Restore(alerts []Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range alerts {
		m.log = append(m.log, a.Clone())
	}
	if over := len(m.log) - m.cfg.LogCapacity; over > 0 {
		m.log = slices.Delete(m.log, 0, over)
	}
}

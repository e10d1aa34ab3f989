package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	httpInstrumentationName = "github.com/fyrsmithlabs/lessonflow/internal/http"

	// unmatchedRoute labels requests that hit no registered route.
	unmatchedRoute = "unmatched"
)

// HTTPMetrics records request counts, latency, response size and in-flight
// requests for the monitoring API.
type HTTPMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	size     metric.Int64Histogram
	inflight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil. Instruments that fail to register are skipped.
func NewHTTPMetrics(logger *zap.Logger, meter metric.Meter) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}

	m := &HTTPMetrics{}
	var errs []error
	note := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	m.requests, err = meter.Int64Counter("lessonflow.http.requests_total",
		metric.WithDescription("Monitoring API requests by method, route and status"),
		metric.WithUnit("{request}"))
	note(err)
	m.latency, err = meter.Float64Histogram("lessonflow.http.request_duration_seconds",
		metric.WithDescription("Monitoring API latency by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5))
	note(err)
	m.size, err = meter.Int64Histogram("lessonflow.http.response_size_bytes",
		metric.WithDescription("Monitoring API response body size"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 512, 2048, 8192, 32768, 131072))
	note(err)
	m.inflight, err = meter.Int64UpDownCounter("lessonflow.http.active_requests",
		metric.WithDescription("Monitoring API requests in flight"),
		metric.WithUnit("{request}"))
	note(err)

	for _, err := range errs {
		logger.Warn("failed to create http instrument", zap.Error(err))
	}
	return m
}

// MetricsMiddleware records every request after the handler returns.
// Routes are labeled by pattern, e.g. /api/v1/stages/:stage.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()

			m.track(ctx, 1)
			defer m.track(ctx, -1)

			err := next(c)

			res := c.Response()
			status := res.Status
			if he, ok := err.(*echo.HTTPError); ok && !res.Committed {
				status = he.Code
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", routeLabel(c.Path())),
				attribute.Int("status", status))

			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.size != nil {
				m.size.Record(ctx, res.Size, attrs)
			}
			return err
		}
	}
}

func (m *HTTPMetrics) track(ctx context.Context, delta int64) {
	if m.inflight != nil {
		m.inflight.Add(ctx, delta)
	}
}

// routeLabel returns the matched route pattern, or unmatchedRoute when
// echo found no route.
func routeLabel(path string) string {
	if path == "" {
		return unmatchedRoute
	}
	return path
}

package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessonflow/internal/telemetry"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	m := NewHTTPMetrics(zap.NewNop(), tel.Meter(httpInstrumentationName))

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/stages/:stage", func(c echo.Context) error {
		if c.Param("stage") == "unknown" {
			return echo.NewHTTPError(http.StatusNotFound, "unknown stage")
		}
		return c.JSON(http.StatusOK, map[string]string{"stage": c.Param("stage")})
	})

	for _, path := range []string{"/health", "/api/v1/stages/translation", "/api/v1/stages/speech", "/api/v1/stages/unknown"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	n, ok := tel.Int64Sum(t, "lessonflow.http.requests_total",
		attribute.String("endpoint", "/api/v1/stages/:stage"), attribute.Int("status", http.StatusOK))
	assert.True(t, ok)
	assert.Equal(t, int64(2), n)

	// handler errors are labeled with their status, not the default 200
	n, ok = tel.Int64Sum(t, "lessonflow.http.requests_total",
		attribute.String("endpoint", "/api/v1/stages/:stage"), attribute.Int("status", http.StatusNotFound))
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)

	n, ok = tel.Int64Sum(t, "lessonflow.http.requests_total", attribute.String("endpoint", "/health"), attribute.Int("status", 200))
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, uint64(4), tel.HistogramCount(t, "lessonflow.http.request_duration_seconds"))

	active, ok := tel.Int64Sum(t, "lessonflow.http.active_requests")
	assert.True(t, ok)
	assert.Equal(t, int64(0), active)
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", unmatchedRoute},
		{"/health", "/health"},
		{"/api/v1/stages/:stage", "/api/v1/stages/:stage"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, routeLabel(tt.input))
	}
}

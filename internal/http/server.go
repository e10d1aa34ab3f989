// Package http serves the lessonflow monitoring API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessonflow/internal/alerts"
	"github.com/fyrsmithlabs/lessonflow/internal/monitor"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

const (
	defaultDashboardWindow = 24 * time.Hour
	defaultStageWindow     = time.Hour
	defaultAlertHours      = 24
)

// Server provides the monitoring HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	monitor  *monitor.Service
	registry *prometheus.Registry
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithHTTPMetrics records request metrics through m.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.echo.Use(m.MetricsMiddleware()) }
}

// NewServer creates a new HTTP server. GET /metrics exposes registry.
func NewServer(svc *monitor.Service, registry *prometheus.Registry, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("monitor service cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("prometheus registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9464,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		monitor:  svc,
		registry: registry,
		logger:   logger,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/dashboard", s.handleDashboard)
	v1.GET("/health", s.handleHealthCheck)
	v1.GET("/stages/:stage", s.handleStage)
	v1.GET("/alerts", s.handleAlerts)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// handleHealth reports that the process is serving.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleHealthCheck runs a pipeline health check. Breaches raise alerts.
func (s *Server) handleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, s.monitor.HealthCheck(c.Request().Context()))
}

func (s *Server) handleDashboard(c echo.Context) error {
	window, err := parseWindow(c.QueryParam("window"), defaultDashboardWindow)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.monitor.Dashboard(window))
}

func (s *Server) handleStage(c echo.Context) error {
	window, err := parseWindow(c.QueryParam("window"), defaultStageWindow)
	if err != nil {
		return err
	}
	health, err := s.monitor.StageHealth(stage.ID(c.Param("stage")), window)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, health)
}

func (s *Server) handleAlerts(c echo.Context) error {
	hours := defaultAlertHours
	if v := c.QueryParam("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "hours must be a positive integer")
		}
		if n > alerts.MaxLookbackHours {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("hours must be at most %d", alerts.MaxLookbackHours))
		}
		hours = n
	}

	var severities []alerts.Severity
	if v := c.QueryParam("severity"); v != "" {
		for _, name := range strings.Split(v, ",") {
			sev, err := alerts.ParseSeverity(strings.TrimSpace(name))
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			severities = append(severities, sev)
		}
	}

	window := time.Duration(hours) * time.Hour
	found := s.monitor.RecentAlerts(window, severities...)
	if found == nil {
		found = []alerts.Alert{}
	}
	return c.JSON(http.StatusOK, AlertsResponse{
		Alerts:     found,
		Count:      len(found),
		TimeWindow: fmt.Sprintf("%dh", hours),
	})
}

func parseWindow(v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "window must be a positive duration such as 1h or 30m")
	}
	return d, nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.Addr()))
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

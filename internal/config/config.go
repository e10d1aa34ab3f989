// Package config provides configuration loading for lessonflow.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/v2"
)

// Config is the root lessonflow configuration.
//
// Logging and telemetry sections are owned by their packages and read
// through Section so those packages can keep their own defaults.
type Config struct {
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Monitor   MonitorConfig   `koanf:"monitor"`
	Storage   StorageConfig   `koanf:"storage"`
	Server    ServerConfig    `koanf:"server"`
	NATS      NATSConfig      `koanf:"nats"`
	Inference InferenceConfig `koanf:"inference"`

	raw *koanf.Koanf
}

// PipelineConfig governs stage retry and the quality gate.
type PipelineConfig struct {
	MaxRetries       int      `koanf:"max_retries"`
	BackoffBase      float64  `koanf:"backoff_base"`
	BackoffUnit      Duration `koanf:"backoff_unit"`
	QualityThreshold float64  `koanf:"quality_threshold"`
	// StageTimeout bounds a single attempt. Zero disables the bound.
	StageTimeout     Duration `koanf:"stage_timeout"`
	RetryQualityGate bool     `koanf:"retry_quality_gate"`
}

// AlertsConfig holds alert thresholds and the alert log bounds.
type AlertsConfig struct {
	ErrorRateThreshold float64  `koanf:"error_rate_threshold"`
	ErrorRateWindow    Duration `koanf:"error_rate_window"`
	LogCapacity        int      `koanf:"log_capacity"`
	Retention          Duration `koanf:"retention"`
	Console            bool     `koanf:"console"`
}

// MetricsConfig bounds the in-memory outcome store.
type MetricsConfig struct {
	Capacity  int      `koanf:"capacity"`
	Retention Duration `koanf:"retention"`
}

// MonitorConfig controls the periodic health check loop.
type MonitorConfig struct {
	Interval        Duration `koanf:"interval"`
	DashboardWindow Duration `koanf:"dashboard_window"`
}

// StorageConfig locates the SQLite database and generated audio.
type StorageConfig struct {
	Path     string `koanf:"path"`
	AudioDir string `koanf:"audio_dir"`
}

// ServerConfig holds monitoring HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NATSConfig controls alert fan-out over NATS.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// InferenceConfig configures the hosted model inference client.
type InferenceConfig struct {
	BaseURL           string       `koanf:"base_url"`
	APIKey            Secret       `koanf:"api_key"`
	RequestsPerMinute int          `koanf:"requests_per_minute"`
	Burst             int          `koanf:"burst"`
	Timeout           Duration     `koanf:"timeout"`
	Models            ModelsConfig `koanf:"models"`
}

// ModelsConfig names the model used by each stage.
type ModelsConfig struct {
	Simplify  string `koanf:"simplify"`
	Translate string `koanf:"translate"`
	Validate  string `koanf:"validate"`
	// SpeechPrefix is joined with a three-letter language code, e.g. facebook/mms-tts-hin.
	SpeechPrefix string `koanf:"speech_prefix"`
	// ASR transcribes synthesized audio to score it. Empty disables scoring.
	ASR string `koanf:"asr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := filepath.Join(".", "data")
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "lessonflow")
	}

	return &Config{
		Pipeline: PipelineConfig{
			MaxRetries:       3,
			BackoffBase:      2,
			BackoffUnit:      Duration(time.Second),
			QualityThreshold: 0.80,
			RetryQualityGate: true,
		},
		Alerts: AlertsConfig{
			ErrorRateThreshold: 0.10,
			ErrorRateWindow:    Duration(time.Hour),
			LogCapacity:        10000,
			Retention:          Duration(168 * time.Hour),
		},
		Metrics: MetricsConfig{
			Capacity:  100000,
			Retention: Duration(168 * time.Hour),
		},
		Monitor: MonitorConfig{
			Interval:        Duration(5 * time.Minute),
			DashboardWindow: Duration(24 * time.Hour),
		},
		Storage: StorageConfig{
			Path:     filepath.Join(dataDir, "lessonflow.db"),
			AudioDir: filepath.Join(dataDir, "audio"),
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9464,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "lessonflow.alerts",
		},
		Inference: InferenceConfig{
			BaseURL:           "https://api-inference.huggingface.co",
			RequestsPerMinute: 100,
			Burst:             5,
			Timeout:           Duration(60 * time.Second),
			Models: ModelsConfig{
				Simplify:     "google/flan-t5-base",
				Translate:    "ai4bharat/indictrans2-en-indic-1B",
				Validate:     "bert-base-multilingual-cased",
				SpeechPrefix: "facebook/mms-tts-",
				ASR:          "openai/whisper-large-v3",
			},
		},
	}
}

// Section unmarshals the raw configuration subtree at key into out.
// Fields absent from the loaded sources keep the values already in out.
func (c *Config) Section(key string, out any) error {
	if c.raw == nil {
		return nil
	}
	if err := c.raw.Unmarshal(key, out); err != nil {
		return fmt.Errorf("unmarshal %s section: %w", key, err)
	}
	return nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	p := c.Pipeline
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_retries must be >= 0, got %d", p.MaxRetries))
	}
	if p.BackoffBase < 1 {
		errs = append(errs, fmt.Errorf("pipeline.backoff_base must be >= 1, got %g", p.BackoffBase))
	}
	if p.QualityThreshold < 0 || p.QualityThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.quality_threshold must be within [0, 1], got %g", p.QualityThreshold))
	}

	a := c.Alerts
	if a.ErrorRateThreshold < 0 || a.ErrorRateThreshold > 1 {
		errs = append(errs, fmt.Errorf("alerts.error_rate_threshold must be within [0, 1], got %g", a.ErrorRateThreshold))
	}
	if a.ErrorRateWindow.Duration() <= 0 {
		errs = append(errs, errors.New("alerts.error_rate_window must be positive"))
	}
	if a.LogCapacity <= 0 {
		errs = append(errs, fmt.Errorf("alerts.log_capacity must be positive, got %d", a.LogCapacity))
	}

	if c.Metrics.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("metrics.capacity must be positive, got %d", c.Metrics.Capacity))
	}
	if c.Monitor.Interval.Duration() <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be within 1-65535, got %d", c.Server.Port))
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats is enabled"))
	}

	in := c.Inference
	if in.BaseURL == "" {
		errs = append(errs, errors.New("inference.base_url is required"))
	}
	if in.RequestsPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("inference.requests_per_minute must be positive, got %d", in.RequestsPerMinute))
	}
	if in.Burst <= 0 {
		errs = append(errs, fmt.Errorf("inference.burst must be positive, got %d", in.Burst))
	}

	return errors.Join(errs...)
}

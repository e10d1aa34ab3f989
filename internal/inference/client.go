// Package inference calls hosted models over a Hugging Face style inference
// API and adapts them to the pipeline stage interfaces.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/lessonflow/internal/config"
	"github.com/fyrsmithlabs/lessonflow/internal/logging"
)

const (
	defaultTimeout           = 60 * time.Second
	defaultRequestsPerMinute = 100
	defaultBurst             = 5
	maxErrorBody             = 512
	maxResponseBody          = 32 << 20
)

// ErrMissingAPIKey is returned by NewClient when no token is configured.
var ErrMissingAPIKey = errors.New("inference api key required")

// StatusError is a non-2xx response from the inference API.
type StatusError struct {
	Model      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.StatusCode == http.StatusServiceUnavailable {
		return fmt.Sprintf("model %s is loading (503): %s", e.Model, e.Body)
	}
	return fmt.Sprintf("model %s returned %d: %s", e.Model, e.StatusCode, e.Body)
}

// Retryable reports whether a later attempt may succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client posts JSON payloads to hosted models.
type Client struct {
	baseURL    string
	apiKey     config.Secret
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout is left untouched.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter replaces the request rate limiter.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client from the inference configuration.
func NewClient(cfg config.InferenceConfig, opts ...ClientOption) (*Client, error) {
	if !cfg.APIKey.IsSet() {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("inference base url required")
	}

	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Post sends payload as JSON to model and returns the raw response body.
func (c *Client) Post(ctx context.Context, model string, payload any) ([]byte, error) {
	data, _, err := c.PostRaw(ctx, model, payload)
	return data, err
}

// PostRaw is Post that also returns the response content type, for models
// that answer with binary data such as audio.
func (c *Client) PostRaw(ctx context.Context, model string, payload any) ([]byte, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, model, "application/json", body)
}

// PostBinary sends data with contentType to model, for models that take
// raw input such as speech recognition.
func (c *Client) PostBinary(ctx context.Context, model, contentType string, data []byte) ([]byte, error) {
	out, _, err := c.do(ctx, model, contentType, data)
	return out, err
}

func (c *Client) do(ctx context.Context, model, contentType string, body []byte) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/"+model, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Value())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request %s: %w", model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s response: %w", model, err)
	}
	if len(data) > maxResponseBody {
		return nil, "", fmt.Errorf("%s response exceeds %d bytes", model, maxResponseBody)
	}

	c.logger.Debug(ctx, "inference request",
		zap.String("model", model),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &StatusError{Model: model, StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(data)), maxErrorBody)}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

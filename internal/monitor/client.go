package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client queries a running lessonflow server's monitoring API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new monitoring API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// BaseURL returns the server address the client queries.
func (c *Client) BaseURL() string { return c.baseURL }

// Dashboard fetches the dashboard for window.
func (c *Client) Dashboard(ctx context.Context, window time.Duration) (DashboardData, error) {
	var d DashboardData
	err := c.get(ctx, "/api/v1/dashboard", url.Values{"window": {window.String()}}, &d)
	return d, err
}

// Health runs a health check on the server.
func (c *Client) Health(ctx context.Context) (HealthReport, error) {
	var r HealthReport
	err := c.get(ctx, "/api/v1/health", nil, &r)
	return r, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lessonflow/internal/alerts"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

func TestClient_DashboardAndHealth(t *testing.T) {
	var gotWindow string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/dashboard":
			gotWindow = r.URL.Query().Get("window")
			_ = json.NewEncoder(w).Encode(sampleSnapshot().Dashboard)
		case "/api/v1/health":
			_ = json.NewEncoder(w).Encode(HealthReport{Status: StatusDegraded, ErrorAlerts: 1})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	assert.Equal(t, srv.URL, c.BaseURL())

	d, err := c.Dashboard(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "24h0m0s", gotWindow)
	assert.Equal(t, 31, d.TotalRequests)
	assert.Equal(t, 9, d.Throughput[stage.Validation])
	assert.InDelta(t, 0.2, d.ErrorRates[stage.Validation], 1e-9)
	require.Len(t, d.RecentAlerts, 1)
	assert.Equal(t, alerts.SeverityWarning, d.RecentAlerts[0].Severity)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, 1, h.ErrorAlerts)
}

func TestClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" {
			_, _ = w.Write([]byte("{not json"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Dashboard(context.Background(), time.Hour)
	assert.ErrorContains(t, err, "unexpected status code 500")

	_, err = c.Health(context.Background())
	assert.ErrorContains(t, err, "failed to decode response")
}

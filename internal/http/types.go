package http

import "github.com/fyrsmithlabs/lessonflow/internal/alerts"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// AlertsResponse is the response body for GET /api/v1/alerts.
type AlertsResponse struct {
	Alerts     []alerts.Alert `json:"alerts"`
	Count      int            `json:"count"`
	TimeWindow string         `json:"time_window"`
}

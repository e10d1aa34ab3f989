package monitor

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lessonflow/internal/pipeline"
)

func TestRenderDashboard(t *testing.T) {
	d := sampleSnapshot().Dashboard
	d.GeneratedAt = epoch

	var buf bytes.Buffer
	require.NoError(t, RenderDashboard(&buf, d))
	out := buf.String()

	assert.Contains(t, out, "Pipeline dashboard (24h, generated 2025-06-01 12:00:00 UTC)")
	assert.Contains(t, out, "Requests: 31 total, 29 succeeded, 2 failed (error rate 6.5%)")
	assert.Contains(t, out, "simplification")
	assert.Contains(t, out, "20.0%")
	assert.Contains(t, out, "1.2s")
	assert.Contains(t, out, "0.87")
	assert.Contains(t, out, "Retries: 6 total across 2 failures")
	assert.Contains(t, out, "quality_threshold")
	assert.Contains(t, out, "warning")

	for _, title := range []string{"Stages", "Quality", "Alerts"} {
		assert.Contains(t, out, title)
	}
}

func TestRenderDashboard_NoAlerts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderDashboard(&buf, DashboardData{}))
	assert.Contains(t, buf.String(), "No alerts in window.")
	assert.Contains(t, buf.String(), "audio_accuracy")
}

func TestRenderHealth(t *testing.T) {
	r := HealthReport{
		Status:      StatusCritical,
		Timestamp:   epoch,
		Throughput:  12,
		SuccessRate: 0.5,
		ErrorAlerts: 3,
	}
	var buf bytes.Buffer
	require.NoError(t, RenderHealth(&buf, r))
	out := buf.String()

	assert.Contains(t, out, "CRITICAL")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "Error rate speech")
	assert.Contains(t, out, epoch.Format("2006-01-02 15:04:05 MST"))
}

func TestRenderTable_NoHeaders(t *testing.T) {
	assert.Empty(t, renderTable("x", nil, [][]string{{"a"}}, nil))
	assert.NotEmpty(t, renderTable("", []string{"a", "b"}, [][]string{{"only"}}, []columnAlignment{alignRight}))
}

func TestRenderRuns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderRuns(&buf, nil))
	assert.Equal(t, "No stored runs.\n", buf.String())

	buf.Reset()
	run := &pipeline.Run{
		ID:           "run-1",
		Status:       pipeline.StatusPassed,
		QualityScore: 0.91,
		StartedAt:    epoch,
		CompletedAt:  epoch.Add(2500 * time.Millisecond),
		Request: pipeline.Request{
			TargetLanguage: "Telugu",
			Grade:          9,
			Subject:        "Geography",
			OutputFormat:   pipeline.FormatBoth,
		},
	}
	require.NoError(t, RenderRuns(&buf, []*pipeline.Run{run}))
	out := buf.String()

	for _, want := range []string{"run-1", "Telugu", "Geography", "both", "0.91", "2.5s"} {
		assert.Contains(t, out, want)
	}
}

package monitor

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/fyrsmithlabs/lessonflow/internal/alerts"
	"github.com/fyrsmithlabs/lessonflow/internal/metrics"
	"github.com/fyrsmithlabs/lessonflow/internal/pipeline"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(title string, headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if title != "" {
		tw.SetTitle(title)
	}

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// RenderDashboard writes the dashboard as terminal tables.
func RenderDashboard(w io.Writer, d DashboardData) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Pipeline dashboard (%s, generated %s)\n",
		d.TimeWindow, d.GeneratedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Requests: %d total, %d succeeded, %d failed (error rate %s)\n\n",
		d.TotalRequests, d.SuccessfulRequests, d.FailedRequests, FormatPercentage(d.ErrorRate()))

	rows := make([][]string, 0, len(stage.All()))
	for _, id := range stage.All() {
		rows = append(rows, []string{
			string(id),
			strconv.Itoa(d.Throughput[id]),
			FormatPercentage(d.ErrorRates[id]),
			FormatLatency(d.AvgProcessingTimes[id]),
			strconv.Itoa(d.Retries.RetriesByStage[id]),
		})
	}
	b.WriteString(renderTable("Stages",
		[]string{"Stage", "Executions", "Error rate", "Avg time", "Retries"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight}))
	b.WriteString("\n\n")

	quality := make([][]string, 0, len(metrics.QualityKeys))
	for _, name := range metrics.QualityKeys {
		v, ok := d.QualityScores[name]
		quality = append(quality, []string{name, FormatScore(v, ok)})
	}
	b.WriteString(renderTable("Quality", []string{"Metric", "Average"}, quality,
		[]columnAlignment{alignLeft, alignRight}))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Retries: %d total across %d failures (%.2f per failure)\n\n",
		d.Retries.TotalRetries, d.Retries.TotalFailures, d.Retries.AvgRetriesPerFailure)

	b.WriteString(alertsTable(d.RecentAlerts))

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderAlerts writes alerts as a terminal table.
func RenderAlerts(w io.Writer, list []alerts.Alert) error {
	_, err := io.WriteString(w, alertsTable(list))
	return err
}

func alertsTable(list []alerts.Alert) string {
	if len(list) == 0 {
		return "No alerts in window.\n"
	}
	rows := make([][]string, 0, len(list))
	for _, a := range list {
		rows = append(rows, []string{
			a.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			a.Severity.String(),
			string(a.Type),
			string(a.Stage),
			a.Message,
		})
	}
	return renderTable("Alerts", []string{"Time", "Severity", "Type", "Stage", "Message"}, rows, nil) + "\n"
}

// RenderHealth writes a health report as a terminal table.
func RenderHealth(w io.Writer, r HealthReport) error {
	rows := [][]string{
		{"Status", strings.ToUpper(string(r.Status))},
		{"Checked", r.Timestamp.UTC().Format("2006-01-02 15:04:05 MST")},
		{"Requests (1h)", strconv.Itoa(r.Throughput)},
		{"Success rate", FormatPercentage(r.SuccessRate)},
		{"Stage alerts", strconv.Itoa(r.ErrorAlerts)},
		{"Overall alert", strconv.FormatBool(r.OverallAlert)},
		{"Retries (24h)", strconv.Itoa(r.Retries.TotalRetries)},
	}
	for _, id := range stage.All() {
		rows = append(rows, []string{"Error rate " + string(id), FormatPercentage(r.ErrorRates[id])})
	}
	_, err := io.WriteString(w, renderTable("Health", []string{"Check", "Value"}, rows,
		[]columnAlignment{alignLeft, alignRight})+"\n")
	return err
}

// RenderRuns writes stored runs, newest first, as a terminal table.
func RenderRuns(w io.Writer, runs []*pipeline.Run) error {
	if len(runs) == 0 {
		_, err := io.WriteString(w, "No stored runs.\n")
		return err
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			r.Request.TargetLanguage,
			strconv.Itoa(r.Request.Grade),
			r.Request.Subject,
			string(r.Request.OutputFormat),
			FormatScore(r.QualityScore, true),
			FormatLatency(float64(r.Duration().Milliseconds())),
		})
	}
	_, err := io.WriteString(w, renderTable("Runs",
		[]string{"ID", "Started", "Language", "Grade", "Subject", "Format", "Quality", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignRight})+"\n")
	return err
}

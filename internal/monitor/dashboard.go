package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/lessonflow/internal/alerts"
	"github.com/fyrsmithlabs/lessonflow/internal/metrics"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	fetchTimeout    = 5 * time.Second
)

// Model is the live `lessonflow watch` view. It polls a server's dashboard
// and health endpoints every interval.
type Model struct {
	client     *Client
	window     time.Duration
	interval   time.Duration
	lastUpdate time.Time
	snapshot   Snapshot
	err        error
	quitting   bool

	successProgress progress.Model
	stageProgress   progress.Model

	errorRateHistory  []float64
	throughputHistory []float64
}

// Snapshot is one poll of the server.
type Snapshot struct {
	Dashboard DashboardData
	Health    HealthReport
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a watch model polling client over window every interval.
func NewModel(client *Client, window, interval time.Duration) Model {
	return Model{
		client:   client,
		window:   window,
		interval: interval,
		successProgress: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(40),
		),
		stageProgress: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(20),
		),
		errorRateHistory:  make([]float64, 0, historySize),
		throughputHistory: make([]float64, 0, historySize),
	}
}

// statusBadge renders the overall health classification
func statusBadge(s Status) string {
	switch s {
	case StatusHealthy:
		return healthyStyle.Render("✓ HEALTHY")
	case StatusDegraded:
		return warningStyle.Render("⚠ DEGRADED")
	case StatusCritical:
		return errorStyle.Render("✗ CRITICAL")
	}
	return dimStyle.Render("? UNKNOWN")
}

// errorRateBadge colors a stage error rate against the alert threshold
func errorRateBadge(rate float64) string {
	switch {
	case rate <= 0.05:
		return healthyStyle.Render("[✓]")
	case rate <= 0.10:
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init starts the refresh loop
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.client, m.window),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshot polls the dashboard and health endpoints
func fetchSnapshot(client *Client, window time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		d, err := client.Dashboard(ctx, window)
		if err != nil {
			return errMsg(err)
		}
		h, err := client.Health(ctx)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(Snapshot{Dashboard: d, Health: h})
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.client, m.window)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.client, m.window),
		)

	case snapshotMsg:
		s := Snapshot(msg)
		m.snapshot = s
		m.errorRateHistory = appendToHistory(m.errorRateHistory, s.Dashboard.ErrorRate()*100)
		m.throughputHistory = appendToHistory(m.throughputHistory, float64(s.Dashboard.TotalRequests))
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" lessonflow Monitor ") + "\n\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach lessonflow server") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.client.BaseURL()) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start it with: lessonflow serve") + "\n\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")
	return containerStyle.Render(b.String())
}

func (m Model) renderDashboard() string {
	d := m.snapshot.Dashboard
	h := m.snapshot.Health

	var b strings.Builder

	lastUpdate := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdate = m.lastUpdate.Format("3:04:05 PM")
	}
	b.WriteString(headerStyle.Render(" lessonflow Monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s %s   %s\n",
		statusBadge(h.Status),
		dimStyle.Render("Window:"),
		valueStyle.Render(FormatDuration(int64(m.window.Seconds()))),
		dimStyle.Render(lastUpdate)))

	b.WriteString("\n" + sectionStyle.Render("┃ Requests") + "\n")
	b.WriteString(labelStyle.Render("  Total: ") +
		valueStyle.Render(fmt.Sprintf("%d", d.TotalRequests)) +
		dimStyle.Render(fmt.Sprintf(" (%s)", FormatRate(d.TotalRequests, m.window))) +
		"   " + createSparkline(m.throughputHistory) + "\n")

	success := 1.0
	if d.TotalRequests > 0 {
		success = float64(d.SuccessfulRequests) / float64(d.TotalRequests)
	}
	b.WriteString(labelStyle.Render("  Success: ") +
		m.successProgress.ViewAs(success) +
		" " + dimStyle.Render(FormatPercentage(success)) + "\n")
	b.WriteString(labelStyle.Render("  Error rate: ") +
		valueStyle.Render(FormatPercentage(d.ErrorRate())) +
		"   " + createSparkline(m.errorRateHistory) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Stages") + "\n")
	for _, id := range stage.All() {
		rate := d.ErrorRates[id]
		b.WriteString(labelStyle.Render(fmt.Sprintf("  %-15s", id)) +
			m.stageProgress.ViewAs(min(rate, 1)) + " " +
			errorRateBadge(rate) + " " +
			valueStyle.Render(fmt.Sprintf("%4d", d.Throughput[id])) +
			dimStyle.Render(" runs  avg ") +
			valueStyle.Render(FormatLatency(d.AvgProcessingTimes[id])) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Quality & Retries") + "\n")
	for _, name := range metrics.QualityKeys {
		v, ok := d.QualityScores[name]
		b.WriteString(labelStyle.Render("  "+name+": ") + valueStyle.Render(FormatScore(v, ok)) + "\n")
	}
	b.WriteString(labelStyle.Render("  Retries: ") +
		valueStyle.Render(fmt.Sprintf("%d", d.Retries.TotalRetries)) +
		dimStyle.Render(fmt.Sprintf(" over %d failures", d.Retries.TotalFailures)) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Alerts") + "\n")
	if len(d.RecentAlerts) == 0 {
		b.WriteString(dimStyle.Render("  none") + "\n")
	}
	recent := d.RecentAlerts
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	for i := len(recent) - 1; i >= 0; i-- {
		a := recent[i]
		b.WriteString("  " + alertStyle(a.Severity).Render(strings.ToUpper(a.Severity.String())) +
			" " + dimStyle.Render(a.Timestamp.Local().Format("15:04:05")) +
			" " + a.Message + "\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

func alertStyle(s alerts.Severity) lipgloss.Style {
	switch {
	case s >= alerts.SeverityError:
		return errorStyle
	case s == alerts.SeverityWarning:
		return warningStyle
	}
	return dimStyle
}

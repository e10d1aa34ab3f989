package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/lessonflow/internal/alerts"
	"github.com/fyrsmithlabs/lessonflow/internal/monitor"
)

var (
	dashboardWindow time.Duration
	dashboardCheck  bool
	dashboardJSON   bool

	runsLimit int
	runsJSON  bool

	alertsHours    int
	alertsSeverity []string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Print the dashboard from stored outcomes and alerts",
	Long: `Print the dashboard aggregate for a window from the local database, without a
running server.

Examples:
  lessonflow dashboard
  lessonflow dashboard --window 1h --check
  lessonflow dashboard --json`,
	Args: cobra.NoArgs,
	RunE: runDashboard,
}

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "List stored runs, or print one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List stored alerts",
	Long: `List alerts raised within the last hours, optionally filtered by severity.

Examples:
  lessonflow alerts --hours 6
  lessonflow alerts --severity error,critical`,
	Args: cobra.NoArgs,
	RunE: runAlerts,
}

func init() {
	dashboardCmd.Flags().DurationVarP(&dashboardWindow, "window", "w", 0, "time window (default monitor.dashboard_window)")
	dashboardCmd.Flags().BoolVar(&dashboardCheck, "check", false, "also run a health check, raising alerts for breaches")
	dashboardCmd.Flags().BoolVar(&dashboardJSON, "json", false, "print JSON instead of tables")

	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print JSON instead of a table")

	alertsCmd.Flags().IntVar(&alertsHours, "hours", 24, "look back this many hours")
	alertsCmd.Flags().StringSliceVar(&alertsSeverity, "severity", nil, "severities to include (info, warning, error, critical)")
}

func runDashboard(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	window := dashboardWindow
	if window <= 0 {
		window = a.cfg.Monitor.DashboardWindow.Duration()
	}

	svc := a.newMonitor()
	out := cmd.OutOrStdout()

	var health *monitor.HealthReport
	if dashboardCheck {
		r := svc.HealthCheck(ctx)
		health = &r
	}
	data := svc.Dashboard(window)

	if dashboardJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Dashboard monitor.DashboardData `json:"dashboard"`
			Health    *monitor.HealthReport `json:"health,omitempty"`
		}{data, health})
	}

	if err := monitor.RenderDashboard(out, data); err != nil {
		return err
	}
	if health != nil {
		fmt.Fprintln(out)
		return monitor.RenderHealth(out, *health)
	}
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		run, err := a.db.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		if runsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		}
		printRun(out, run)
		return nil
	}

	runs, err := a.db.RecentRuns(ctx, runsLimit)
	if err != nil {
		return err
	}
	if runsJSON {
		return json.NewEncoder(out).Encode(runs)
	}
	return monitor.RenderRuns(out, runs)
}

func runAlerts(cmd *cobra.Command, _ []string) error {
	if alertsHours <= 0 {
		return fmt.Errorf("--hours must be positive, got %d", alertsHours)
	}
	if alertsHours > alerts.MaxLookbackHours {
		return fmt.Errorf("--hours must be at most %d, got %d", alerts.MaxLookbackHours, alertsHours)
	}
	severities := make([]alerts.Severity, 0, len(alertsSeverity))
	for _, name := range alertsSeverity {
		s, err := alerts.ParseSeverity(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		severities = append(severities, s)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	recent := a.newMonitor().RecentAlerts(time.Duration(alertsHours)*time.Hour, severities...)
	return monitor.RenderAlerts(cmd.OutOrStdout(), recent)
}

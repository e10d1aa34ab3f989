package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/lessonflow/internal/config"
	"github.com/fyrsmithlabs/lessonflow/internal/monitor"
)

var (
	watchServer   string
	watchWindow   time.Duration
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of a running lessonflow server",
	Long: `Poll a lessonflow server's dashboard and health endpoints and render them in
the terminal. Press r to refresh and q to quit.

Examples:
  lessonflow watch
  lessonflow watch --server http://10.0.0.5:9464 --window 1h --interval 10s`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "", "server URL (default from server.host and server.port)")
	watchCmd.Flags().DurationVarP(&watchWindow, "window", "w", 24*time.Hour, "dashboard time window")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "refresh interval")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if watchInterval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", watchInterval)
	}

	url := watchServer
	if url == "" {
		cfg, err := config.LoadWithFile(configPath)
		if err != nil {
			return err
		}
		url = "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	}

	model := monitor.NewModel(monitor.NewClient(url), watchWindow, watchInterval)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

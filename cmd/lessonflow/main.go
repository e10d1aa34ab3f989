// Package main implements the lessonflow command line: the monitoring server,
// one-shot lesson processing, and terminal dashboards.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides ~/.config/lessonflow/config.yaml
	configPath string
	// verbose keeps info logs on for one-shot commands
	verbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lessonflow",
	Short: "Multilingual lesson processing pipeline with monitoring",
	Long: `lessonflow simplifies English lesson text for a grade, translates it into an
Indian language, validates curriculum alignment and optionally synthesizes
speech. Every stage outcome is recorded for health checks, alerts and
dashboards.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/lessonflow/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "log at info level for one-shot commands")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd.OutOrStdout())
	},
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "lessonflow by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

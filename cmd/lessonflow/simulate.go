package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/lessonflow/internal/monitor"
	"github.com/fyrsmithlabs/lessonflow/internal/pipeline"
	"github.com/fyrsmithlabs/lessonflow/internal/simulate"
)

var (
	simRuns        int
	simConcurrency int
	simSeed        uint64
	simProfile     = simulate.DefaultProfile()
	simBackoffUnit time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Generate sample runs with synthetic models",
	Long: `Drive the pipeline with synthetic models that fail and score at random, and
record the outcomes and alerts like real runs. Use it to try dashboards and
alert thresholds without calling the inference service.

Examples:
  lessonflow simulate --runs 200
  lessonflow simulate --runs 50 --failure-rate 0.3 --min-score 0.6`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVarP(&simRuns, "runs", "n", 100, "number of runs")
	f.IntVar(&simConcurrency, "concurrency", 4, "runs in flight at once")
	f.Uint64Var(&simSeed, "seed", uint64(time.Now().UnixNano()), "random seed")
	f.Float64Var(&simProfile.FailureRate, "failure-rate", simProfile.FailureRate, "probability that one attempt fails")
	f.Float64Var(&simProfile.MinScore, "min-score", simProfile.MinScore, "lowest alignment score")
	f.Float64Var(&simProfile.MaxScore, "max-score", simProfile.MaxScore, "highest alignment score")
	f.DurationVar(&simProfile.MaxLatency, "max-latency", simProfile.MaxLatency, "highest per-attempt latency")
	f.DurationVar(&simBackoffUnit, "backoff-unit", 10*time.Millisecond, "retry backoff unit")
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	if simRuns <= 0 || simConcurrency <= 0 {
		return fmt.Errorf("--runs and --concurrency must be positive")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{quiet: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	models, err := simulate.NewModels(simProfile, simSeed, nil)
	if err != nil {
		return err
	}

	orch, err := a.buildPipeline(models, simBackoffUnit, nil)
	if err != nil {
		return err
	}

	passed, failed := simulateRuns(ctx, orch, simulate.Requests(simSeed), simRuns, simConcurrency)
	a.logger.Info(ctx, "simulation complete",
		zap.Int("passed", passed), zap.Int("failed", failed), zap.Uint64("seed", simSeed))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Simulated %d runs (seed %d): %d passed, %d failed\n\n", passed+failed, simSeed, passed, failed)

	svc := a.newMonitor()
	report := svc.HealthCheck(ctx)
	if err := monitor.RenderDashboard(out, svc.Dashboard(time.Hour)); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return monitor.RenderHealth(out, report)
}

// simulateRuns processes n requests with at most workers in flight and
// counts passed and failed runs. Runs interrupted by ctx are not counted.
func simulateRuns(ctx context.Context, orch *pipeline.Orchestrator, next func() pipeline.Request, n, workers int) (passed, failed int) {
	var ok, bad atomic.Int64

	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n && ctx.Err() == nil; i++ {
		req := next()
		g.Go(func() error {
			_, err := orch.Process(ctx, req)
			switch {
			case errors.Is(err, context.Canceled):
			case err != nil:
				bad.Add(1)
			default:
				ok.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load())
}

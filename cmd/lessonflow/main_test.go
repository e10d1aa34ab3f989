package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lessonflow/internal/clock"
	"github.com/fyrsmithlabs/lessonflow/internal/metrics"
	"github.com/fyrsmithlabs/lessonflow/internal/pipeline"
	"github.com/fyrsmithlabs/lessonflow/internal/simulate"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
	"github.com/fyrsmithlabs/lessonflow/internal/storage"
)

func TestRootCmd_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
		assert.NotEmpty(t, cmd.Short, "%s should have a Short description", cmd.Name())
	}
	for _, want := range []string{"serve", "process", "dashboard", "runs", "alerts", "simulate", "watch", "version"} {
		assert.True(t, names[want], "missing %s command", want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestProcessCmd_Flags(t *testing.T) {
	for _, name := range []string{"language", "grade", "subject", "format", "json"} {
		assert.NotNil(t, processCmd.Flags().Lookup(name), "missing --%s", name)
	}
	assert.Equal(t, "Hindi", processCmd.Flags().Lookup("language").DefValue)
	assert.Equal(t, "text", processCmd.Flags().Lookup("format").DefValue)
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)
	assert.Contains(t, buf.String(), "Version:    dev")
	assert.Contains(t, buf.String(), "Commit:     unknown")
}

func TestReadInput(t *testing.T) {
	got, err := readInput(strings.NewReader("from stdin"), nil)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	got, err = readInput(strings.NewReader("dash"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "dash", got)

	_, err = readInput(strings.NewReader(strings.Repeat("x", maxInputSize+1)), nil)
	assert.ErrorContains(t, err, "exceeds")

	_, err = readInput(nil, []string{filepath.Join(t.TempDir(), "missing.txt")})
	assert.ErrorContains(t, err, "failed to open input")
}

func TestPrintRun(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	run := &pipeline.Run{
		ID:             "run-42",
		Status:         pipeline.StatusFailed,
		QualityScore:   0.62,
		StartedAt:      start,
		CompletedAt:    start.Add(3 * time.Second),
		Failure:        "quality gate: alignment_score 0.62 below 0.80",
		SimplifiedText: "Plants make food.",
		Request:        pipeline.Request{TargetLanguage: "Marathi"},
	}

	var buf bytes.Buffer
	printRun(&buf, run)
	out := buf.String()

	assert.Contains(t, out, "Run:      run-42")
	assert.Contains(t, out, "Status:   failed")
	assert.Contains(t, out, "Quality:  0.62")
	assert.Contains(t, out, "Duration: 3s")
	assert.Contains(t, out, "Failure:  quality gate")
	assert.Contains(t, out, "Plants make food.")
	assert.NotContains(t, out, "Translated")

	accuracy := 0.9
	run.AudioRef = "audio/run.wav"
	run.AudioAccuracy = &accuracy
	buf.Reset()
	printRun(&buf, run)
	assert.Contains(t, buf.String(), "Audio: audio/run.wav\nAudio accuracy: 0.90")
}

// isolate points config and storage at a temp directory.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	db := filepath.Join(home, "data", "lessonflow.db")
	t.Setenv("HOME", home)
	t.Setenv("LESSONFLOW_STORAGE_PATH", db)
	configPath = ""
	return db
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunsCmd_ListsStoredRuns(t *testing.T) {
	db := isolate(t)

	out, err := execute(t, "runs", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "No stored runs.")

	store, err := storage.Open(context.Background(), db)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, store.SaveRun(context.Background(), &pipeline.Run{
		ID:             "run-7",
		Status:         pipeline.StatusPassed,
		QualityScore:   0.88,
		TranslatedText: "வணக்கம்",
		StartedAt:      now.Add(-2 * time.Second),
		CompletedAt:    now,
		Request: pipeline.Request{
			Text:           "Hello",
			TargetLanguage: "Tamil",
			Grade:          6,
			Subject:        "English",
			OutputFormat:   pipeline.FormatText,
		},
	}))
	require.NoError(t, store.Close())

	out, err = execute(t, "runs", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "run-7")
	assert.Contains(t, out, "Tamil")

	out, err = execute(t, "runs", "run-7", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Translated (Tamil):")

	_, err = execute(t, "runs", "missing", "--json=false")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDashboardCmd_RestoresOutcomes(t *testing.T) {
	db := isolate(t)

	store, err := storage.Open(context.Background(), db)
	require.NoError(t, err)
	now := time.Now()
	for i, ok := range []bool{true, true, false} {
		o := stage.Outcome{
			Stage:     stage.Translation,
			StartedAt: now.Add(-time.Duration(i+1) * time.Minute),
			Duration:  400 * time.Millisecond,
			Success:   ok,
			Timestamp: now.Add(-time.Duration(i+1) * time.Minute),
		}
		if !ok {
			o.ErrorKind = stage.KindTransient
			o.Error = "model is loading"
			o.RetryCount = 3
		}
		require.NoError(t, store.AppendOutcome(context.Background(), o))
	}
	require.NoError(t, store.Close())

	out, err := execute(t, "dashboard", "--window", "1h", "--json", "--check=false")
	require.NoError(t, err)

	var got struct {
		Dashboard struct {
			TotalRequests  int `json:"total_requests"`
			FailedRequests int `json:"failed_requests"`
		} `json:"dashboard"`
		Health *json.RawMessage `json:"health"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 3, got.Dashboard.TotalRequests)
	assert.Equal(t, 1, got.Dashboard.FailedRequests)
	assert.Nil(t, got.Health)

	out, err = execute(t, "dashboard", "--window", "1h", "--json=false", "--check")
	require.NoError(t, err)
	assert.Contains(t, out, "Pipeline dashboard (1h")
	assert.Contains(t, out, "Health")
}

func TestAlertsCmd(t *testing.T) {
	isolate(t)

	_, err := execute(t, "alerts", "--hours", "0")
	assert.ErrorContains(t, err, "--hours must be positive")

	_, err = execute(t, "alerts", "--hours", "3000000")
	assert.ErrorContains(t, err, "--hours must be at most")

	out, err := execute(t, "alerts", "--hours", "24")
	require.NoError(t, err)
	assert.Contains(t, out, "No alerts in window.")

	_, err = execute(t, "alerts", "--hours", "24", "--severity", "loud")
	assert.Error(t, err)
}

func TestSimulateRuns_CountsOutcomes(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	models, err := simulate.NewModels(simulate.Profile{FailureRate: 1, MaxScore: 1}, 5, fake)
	require.NoError(t, err)

	store := metrics.NewStore(metrics.WithClock(fake))
	policy := stage.DefaultPolicy()
	policy.MaxRetries = 1
	orch, err := pipeline.New(models, stage.NewExecutor(policy, stage.WithClock(fake)), pipeline.WithRecorder(store))
	require.NoError(t, err)

	passed, failed := simulateRuns(context.Background(), orch, simulate.Requests(5), 12, 3)
	assert.Equal(t, 0, passed)
	assert.Equal(t, 12, failed)
	assert.Equal(t, 12, store.Len())

	// the window is half-open, so outcomes stamped at now need a later clock
	fake.Advance(time.Nanosecond)
	assert.Equal(t, 12, store.Dashboard(time.Hour).Throughput[stage.Simplification])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	passed, failed = simulateRuns(ctx, orch, simulate.Requests(5), 12, 3)
	assert.Zero(t, passed+failed)
	assert.Equal(t, 12, store.Len())
}

func TestSimulateCmd_RejectsBadCounts(t *testing.T) {
	isolate(t)
	_, err := execute(t, "simulate", "--runs", "0")
	assert.ErrorContains(t, err, "must be positive")
}

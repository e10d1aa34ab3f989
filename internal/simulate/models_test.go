package simulate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lessonflow/internal/clock"
	"github.com/fyrsmithlabs/lessonflow/internal/metrics"
	"github.com/fyrsmithlabs/lessonflow/internal/pipeline"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr string
	}{
		{"default", func(*Profile) {}, ""},
		{"failure rate above one", func(p *Profile) { p.FailureRate = 1.5 }, "failure rate"},
		{"inverted scores", func(p *Profile) { p.MinScore, p.MaxScore = 0.9, 0.1 }, "score range"},
		{"negative latency", func(p *Profile) { p.MaxLatency = -time.Second }, "max latency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProfile()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := NewModels(Profile{FailureRate: -1}, 1, nil)
	assert.Error(t, err)
}

func TestModels_AlwaysFail(t *testing.T) {
	m, err := NewModels(Profile{FailureRate: 1, MaxScore: 1}, 7, clock.NewFake(epoch))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Simplifier.Simplify(ctx, "text", 6, "Science")
	assert.ErrorIs(t, err, ErrSimulated)
	_, err = m.Translator.Translate(ctx, "text", "Hindi")
	assert.ErrorIs(t, err, ErrSimulated)
	_, err = m.Validator.Validate(ctx, "a", "b", 6, "Science")
	assert.ErrorIs(t, err, ErrSimulated)
	_, err = m.Speech.Synthesize(ctx, "text", "Hindi")
	assert.ErrorIs(t, err, ErrSimulated)
}

func TestModels_Outputs(t *testing.T) {
	fake := clock.NewFake(epoch)
	p := Profile{MinScore: 0.85, MaxScore: 0.95, MaxLatency: 100 * time.Millisecond}
	m, err := NewModels(p, 42, fake)
	require.NoError(t, err)
	ctx := context.Background()

	simplified, err := m.Simplifier.Simplify(ctx, "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty twenty-one", 5, "Science")
	require.NoError(t, err)
	assert.True(t, len(simplified) > 0)
	assert.NotContains(t, simplified, "twenty-one")

	translated, err := m.Translator.Translate(ctx, "plants", "Bengali")
	require.NoError(t, err)
	assert.Equal(t, "[Bengali] plants", translated)

	for range 20 {
		score, err := m.Validator.Validate(ctx, "a", "b", 5, "Science")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, 0.85)
		assert.LessOrEqual(t, score, 0.95)
	}

	audio, err := m.Speech.Synthesize(ctx, "x", "Telugu")
	require.NoError(t, err)
	assert.Regexp(t, `^sim://audio/telugu/[0-9a-f-]{36}\.wav$`, audio.Ref)
	assert.True(t, audio.Scored)
	assert.GreaterOrEqual(t, audio.Accuracy, 0.85)
	assert.LessOrEqual(t, audio.Accuracy, 0.95)

	for _, d := range fake.Sleeps() {
		assert.Less(t, d, 100*time.Millisecond)
	}
	assert.NotEmpty(t, fake.Sleeps())
}

func TestModels_CanceledContext(t *testing.T) {
	m, err := NewModels(DefaultProfile(), 1, clock.NewFake(epoch))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Translator.Translate(ctx, "x", "Hindi")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequests_ValidAndDeterministic(t *testing.T) {
	a, b := Requests(9), Requests(9)
	var audio int
	for range 200 {
		ra, rb := a(), b()
		require.NoError(t, ra.Validate())
		assert.Equal(t, ra, rb)
		if ra.NeedsSpeech() {
			audio++
		}
	}
	assert.Greater(t, audio, 0)
	assert.Less(t, audio, 200)
}

func TestModels_DrivePipeline(t *testing.T) {
	fake := clock.NewFake(epoch)
	models, err := NewModels(Profile{MinScore: 0.9, MaxScore: 0.99, MaxLatency: 20 * time.Millisecond}, 3, fake)
	require.NoError(t, err)

	store := metrics.NewStore(metrics.WithClock(fake))
	exec := stage.NewExecutor(stage.DefaultPolicy(), stage.WithClock(fake))
	orch, err := pipeline.New(models, exec, pipeline.WithRecorder(store))
	require.NoError(t, err)

	next := Requests(3)
	for range 10 {
		run, err := orch.Process(context.Background(), next())
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusPassed, run.Status)
		assert.GreaterOrEqual(t, run.QualityScore, 0.9)
	}

	fake.Advance(time.Nanosecond)
	d := store.Dashboard(time.Hour)
	assert.Equal(t, 0, d.FailedRequests)
	assert.Equal(t, 10, d.Throughput[stage.Simplification])
}

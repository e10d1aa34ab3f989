package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Equal(t, cfg, logger.config)
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestNewLogger_OTELOnlyWithoutProviderFails(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = true

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestLogger_ContextAwareMethods(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithStage(context.Background(), "translation")

	tests := []struct {
		name  string
		log   func(string)
		level zapcore.Level
	}{
		{"trace", func(m string) { tl.Trace(ctx, m) }, TraceLevel},
		{"debug", func(m string) { tl.Debug(ctx, m) }, zapcore.DebugLevel},
		{"info", func(m string) { tl.Info(ctx, m) }, zapcore.InfoLevel},
		{"warn", func(m string) { tl.Warn(ctx, m) }, zapcore.WarnLevel},
		{"error", func(m string) { tl.Error(ctx, m) }, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl.Reset()
			tt.log(tt.name + " message")

			logs := tl.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level)
			assert.Equal(t, "translation", logs[0].ContextMap()["stage"])
		})
	}
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()

	child := tl.Named("alerts").With(zap.String("component", "manager"))
	child.Info(context.Background(), "handler registered")

	logs := tl.All()
	require.Len(t, logs, 1)
	assert.Equal(t, "alerts", logs[0].LoggerName)
	assert.Equal(t, "manager", logs[0].ContextMap()["component"])
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestNewSampledCore_ErrorsBypassSampling(t *testing.T) {
	tl := NewTestLogger()
	cfg := NewDefaultConfig().Sampling
	cfg.Initial = 1
	cfg.Thereafter = 0

	core := newSampledCore(tl.zap.Core(), cfg)
	logger := &Logger{zap: zap.New(core), config: NewDefaultConfig()}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		logger.Info(ctx, "outcome recorded")
		logger.Error(ctx, "flush failed")
	}

	assert.Equal(t, 1, tl.FilterMessage("outcome recorded").Len())
	assert.Equal(t, 5, tl.FilterMessage("flush failed").Len())
}

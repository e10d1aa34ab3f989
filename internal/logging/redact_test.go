package logging

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/lessonflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encode(t *testing.T, enc zapcore.Encoder, fields ...zapcore.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "msg", Time: time.Unix(0, 0)}, fields)
	require.NoError(t, err)
	defer buf.Free()
	return buf.String()
}

func TestRedactingEncoder_EntryFields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc,
		zap.String("api_key", "hf_abcdefghijkl"),
		zap.String("header", "Bearer abc.def"),
		zap.String("note", "inference token hf_ZZZZZZZZZZZZ leaked"),
		zap.String("stage", "translation"),
	)

	assert.NotContains(t, out, "hf_abcdefghijkl")
	assert.NotContains(t, out, "abc.def")
	assert.NotContains(t, out, "hf_ZZZZZZZZZZZZ")
	assert.Contains(t, out, `"stage":"translation"`)
	assert.Contains(t, out, "[REDACTED:pattern]")
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	child := enc.Clone()
	child.AddString("Authorization", "secret-value")

	out := encode(t, child)
	assert.NotContains(t, out, "secret-value")
	assert.Contains(t, out, "[REDACTED]")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	cfg := NewDefaultConfig().Redaction
	cfg.Enabled = false
	enc, err := NewRedactingEncoder(newEncoder("json"), cfg)
	require.NoError(t, err)

	out := encode(t, enc, zap.String("token", "visible"))
	assert.Contains(t, out, "visible")
}

func TestNewRedactingEncoder_InvalidPattern(t *testing.T) {
	cfg := NewDefaultConfig().Redaction
	cfg.Patterns = []string{"("}

	_, err := NewRedactingEncoder(newEncoder("json"), cfg)
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("inference_key", config.Secret("hf_123456"))
	assert.Equal(t, "[REDACTED:9]", f.String)
}

package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.InDelta(t, 2.0, cfg.Pipeline.BackoffBase, 1e-9)
	assert.Equal(t, time.Second, cfg.Pipeline.BackoffUnit.Duration())
	assert.InDelta(t, 0.80, cfg.Pipeline.QualityThreshold, 1e-9)
	assert.True(t, cfg.Pipeline.RetryQualityGate)
	assert.InDelta(t, 0.10, cfg.Alerts.ErrorRateThreshold, 1e-9)
	assert.Equal(t, time.Hour, cfg.Alerts.ErrorRateWindow.Duration())
}

func TestConfig_ValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.MaxRetries = -1
	cfg.Pipeline.BackoffBase = 0.5
	cfg.Alerts.ErrorRateWindow = 0
	cfg.Server.Port = 0
	cfg.NATS.Enabled = true
	cfg.NATS.URL = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"max_retries", "backoff_base", "error_rate_window", "server.port", "nats.url"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestConfig_SectionWithoutLoadIsNoop(t *testing.T) {
	cfg := Default()
	out := struct{ Format string }{Format: "json"}
	require.NoError(t, cfg.Section("logging", &out))
	assert.Equal(t, "json", out.Format)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalText([]byte("45")))
	assert.Equal(t, 45*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("-5")))
	assert.ErrorContains(t, d.UnmarshalText([]byte("soon")), `invalid duration "soon"`)

	b, err := json.Marshal(Duration(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"1m0s"`, string(b))
}

func TestSecret_NeverPrintsValue(t *testing.T) {
	s := Secret("hf_abc123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hf_abc123")
	assert.Equal(t, "hf_abc123", s.Value())
	assert.True(t, s.IsSet())

	b, err := json.Marshal(struct{ Key Secret }{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(b))

	b, err = json.Marshal(struct{ Key Secret }{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":""}`, string(b))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestTOMLParser_RoundTrip(t *testing.T) {
	p := TOMLParser()
	m, err := p.Unmarshal([]byte("[alerts]\nerror_rate_threshold = 0.25\n"))
	require.NoError(t, err)

	alerts, ok := m["alerts"].(map[string]interface{})
	require.True(t, ok)
	assert.InDelta(t, 0.25, alerts["error_rate_threshold"], 1e-9)

	out, err := p.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(out), "error_rate_threshold = 0.25")
}

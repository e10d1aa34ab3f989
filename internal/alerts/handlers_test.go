package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestSubject(t *testing.T) {
	a := Alert{Type: TypeHighErrorRate, Severity: SeverityCritical}
	assert.Equal(t, "lessonflow.alerts.critical.high_error_rate", Subject("", a))
	assert.Equal(t, "ops.critical.high_error_rate", Subject("ops", a))
}

func TestNATSHandler_PublishesAlert(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	ch := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("lessonflow.alerts.error.>", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	m, _, _ := newTestManager(fixedRates{stage.Translation: 0.4})
	m.RegisterHandler("nats", NATSHandler(nc, DefaultSubjectPrefix))

	raised := m.CheckErrorRates(context.Background())
	require.Len(t, raised, 1)
	require.NoError(t, nc.Flush())

	select {
	case msg := <-ch:
		assert.Equal(t, "lessonflow.alerts.error.high_error_rate", msg.Subject)
		var got Alert
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, raised[0].ID, got.ID)
		assert.Equal(t, SeverityError, got.Severity)
		assert.Equal(t, stage.Translation, got.Stage)
		assert.InDelta(t, 0.4, *got.MetricValue, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for alert message")
	}
}

func TestNATSHandler_ClosedConnectionIsIsolated(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	nc.Close()

	m, _, tl := newTestManager(fixedRates{})
	m.RegisterHandler("nats", NATSHandler(nc, ""))
	delivered := false
	m.RegisterHandler("after", func(context.Context, Alert) error { delivered = true; return nil })

	m.AlertProcessingTimeout(context.Background(), stage.Speech, "run-1", time.Minute)

	assert.True(t, delivered)
	tl.AssertField(t, "alert handler failed", "handler", "nats")
}

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	h := ConsoleHandler(&buf)

	require.NoError(t, h(context.Background(), Alert{
		Type:      TypeStageFailure,
		Severity:  SeverityWarning,
		Message:   "Stage speech failed for run r1: no audio",
		Stage:     stage.Speech,
		Timestamp: now,
	}))
	out := buf.String()
	assert.Contains(t, out, "ALERT: WARNING")
	assert.Contains(t, out, "Type: stage_failure")
	assert.Contains(t, out, "Stage: speech")
	assert.Contains(t, out, "Timestamp: 2025-06-01T12:00:00Z")
	assert.NotContains(t, out, "Metric Value")

	buf.Reset()
	require.NoError(t, h(context.Background(), Alert{
		Type:        TypeHighErrorRate,
		Severity:    SeverityCritical,
		MetricValue: ptr(0.25),
		Threshold:   ptr(0.1),
		Timestamp:   now,
	}))
	assert.Contains(t, buf.String(), "Metric Value: 0.2500")
	assert.Contains(t, buf.String(), "Threshold: 0.1000")
	assert.NotContains(t, buf.String(), "Stage:")
}

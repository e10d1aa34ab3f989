package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the NATS subject prefix for published alerts.
const DefaultSubjectPrefix = "lessonflow.alerts"

// ConsoleHandler writes a human-readable block per alert to w.
func ConsoleHandler(w io.Writer) Handler {
	var mu sync.Mutex
	rule := strings.Repeat("=", 60)
	return func(_ context.Context, a Alert) error {
		var b strings.Builder
		fmt.Fprintf(&b, "\n%s\n", rule)
		fmt.Fprintf(&b, "ALERT: %s\n", strings.ToUpper(a.Severity.String()))
		fmt.Fprintf(&b, "Type: %s\n", a.Type)
		fmt.Fprintf(&b, "Message: %s\n", a.Message)
		if a.Stage != "" {
			fmt.Fprintf(&b, "Stage: %s\n", a.Stage)
		}
		if a.MetricValue != nil {
			fmt.Fprintf(&b, "Metric Value: %.4f\n", *a.MetricValue)
		}
		if a.Threshold != nil {
			fmt.Fprintf(&b, "Threshold: %.4f\n", *a.Threshold)
		}
		fmt.Fprintf(&b, "Timestamp: %s\n", a.Timestamp.Format(time.RFC3339))
		fmt.Fprintf(&b, "%s\n", rule)

		mu.Lock()
		defer mu.Unlock()
		_, err := io.WriteString(w, b.String())
		return err
	}
}

// Subject returns the NATS subject for a: <prefix>.<severity>.<type>.
func Subject(prefix string, a Alert) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return fmt.Sprintf("%s.%s.%s", prefix, a.Severity, a.Type)
}

// NATSHandler publishes each alert as JSON to Subject(prefix, alert).
// Subscribers can filter with wildcards such as "lessonflow.alerts.critical.>".
func NATSHandler(nc *nats.Conn, prefix string) Handler {
	return func(_ context.Context, a Alert) error {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal alert: %w", err)
		}
		if err := nc.Publish(Subject(prefix, a), data); err != nil {
			return fmt.Errorf("publish alert: %w", err)
		}
		return nil
	}
}

// Package alerts raises threshold and event alerts about pipeline health
// and dispatches them to a registry of named handlers.
package alerts

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

// MaxLookbackHours bounds the window of alert queries. Longer windows
// would overflow time.Duration.
const MaxLookbackHours = 24 * 366

// Type categorizes an alert.
type Type string

const (
	TypeHighErrorRate     Type = "high_error_rate"
	TypeStageFailure      Type = "stage_failure"
	TypeQualityThreshold  Type = "quality_threshold"
	TypeProcessingTimeout Type = "processing_timeout"
)

// Severity is an ordered alert tier: Info < Warning < Error < Critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"info", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity parses a severity name case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(name, n) {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

// MarshalText encodes the severity name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Alert is an immutable notification about pipeline health.
type Alert struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	Stage       stage.ID       `json:"stage,omitempty"`
	MetricValue *float64       `json:"metric_value,omitempty"`
	Threshold   *float64       `json:"threshold,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy that shares no mutable state with a.
func (a Alert) Clone() Alert {
	if a.Metadata != nil {
		a.Metadata = maps.Clone(a.Metadata)
	}
	if a.MetricValue != nil {
		v := *a.MetricValue
		a.MetricValue = &v
	}
	if a.Threshold != nil {
		v := *a.Threshold
		a.Threshold = &v
	}
	return a
}

func ptr(v float64) *float64 { return &v }

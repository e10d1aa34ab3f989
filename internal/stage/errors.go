package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a stage failure
type Kind string

const (
	// KindTransient is any work failure that may succeed on retry
	KindTransient Kind = "transient"

	// KindQualityGate is a computed score below its threshold
	KindQualityGate Kind = "quality_gate"

	// KindInvalidInput is a request rejected before any stage runs; never retried
	KindInvalidInput Kind = "invalid_input"

	// KindTimeout is an attempt that exceeded the per-attempt timeout
	KindTimeout Kind = "timeout"

	// KindCanceled is a caller context that ended mid-execution; never retried
	KindCanceled Kind = "canceled"
)

// ErrTimeout marks an attempt cut off by the per-attempt timeout
var ErrTimeout = errors.New("stage attempt timed out")

// QualityGateError reports a score below the configured threshold
type QualityGateError struct {
	Metric    string
	Score     float64
	Threshold float64
}

func (e *QualityGateError) Error() string {
	return fmt.Sprintf("%s %.3f below threshold %.3f", e.Metric, e.Score, e.Threshold)
}

// InvalidInputError lists every violated request constraint
type InvalidInputError struct {
	Reasons []string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + strings.Join(e.Reasons, "; ")
}

// Error is the terminal failure of a stage after its retry budget
type Error struct {
	Stage    ID
	Attempts int
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var se *Error
	if errors.As(err, &se) && se.Kind != "" {
		return se.Kind
	}

	var inv *InvalidInputError
	if errors.As(err, &inv) {
		return KindInvalidInput
	}
	var qg *QualityGateError
	if errors.As(err, &qg) {
		return KindQualityGate
	}
	if errors.Is(err, ErrTimeout) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindTransient
}

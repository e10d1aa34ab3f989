package stage

import (
	"math"
	"time"
)

// Policy bounds retries for one stage execution
type Policy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// BackoffBase is the exponential growth factor between retries
	BackoffBase float64

	// BackoffUnit scales the delay: unit * base^attempt
	BackoffUnit time.Duration

	// AttemptTimeout bounds one attempt; zero disables it
	AttemptTimeout time.Duration

	// RetryQualityGate retries quality-gate misses like transient failures
	RetryQualityGate bool
}

// DefaultPolicy returns 3 retries with 1s, 2s, 4s backoff
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:       3,
		BackoffBase:      2,
		BackoffUnit:      time.Second,
		RetryQualityGate: true,
	}
}

// Backoff returns the delay after the given zero-based attempt
func (p Policy) Backoff(attempt int) time.Duration {
	return time.Duration(float64(p.BackoffUnit) * math.Pow(p.BackoffBase, float64(attempt)))
}

// Retryable reports whether a failure of kind k may be retried
func (p Policy) Retryable(k Kind) bool {
	switch k {
	case KindTransient, KindTimeout:
		return true
	case KindQualityGate:
		return p.RetryQualityGate
	default:
		return false
	}
}

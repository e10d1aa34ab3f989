// Package simulate provides synthetic stage models and requests that drive
// the real pipeline without a hosted inference service. The outcomes they
// produce populate dashboards and exercise alert thresholds.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/lessonflow/internal/clock"
	"github.com/fyrsmithlabs/lessonflow/internal/pipeline"
)

// ErrSimulated is returned by an attempt chosen to fail.
var ErrSimulated = errors.New("simulated model failure")

// Profile shapes the synthetic behavior of every stage.
type Profile struct {
	// FailureRate is the probability that one attempt fails, in [0, 1].
	FailureRate float64
	// MinScore and MaxScore bound the uniform alignment and audio scores.
	MinScore float64
	MaxScore float64
	// MaxLatency bounds the uniform per-attempt latency.
	MaxLatency time.Duration
}

// DefaultProfile fails one attempt in twelve and scores mostly above the
// default quality threshold.
func DefaultProfile() Profile {
	return Profile{
		FailureRate: 0.08,
		MinScore:    0.70,
		MaxScore:    0.98,
		MaxLatency:  50 * time.Millisecond,
	}
}

// Validate checks the profile bounds.
func (p Profile) Validate() error {
	var errs []error
	if p.FailureRate < 0 || p.FailureRate > 1 {
		errs = append(errs, fmt.Errorf("failure rate must be in [0, 1], got %g", p.FailureRate))
	}
	if p.MinScore < 0 || p.MaxScore > 1 || p.MinScore > p.MaxScore {
		errs = append(errs, fmt.Errorf("score range must satisfy 0 <= min <= max <= 1, got [%g, %g]", p.MinScore, p.MaxScore))
	}
	if p.MaxLatency < 0 {
		errs = append(errs, fmt.Errorf("max latency must be >= 0, got %s", p.MaxLatency))
	}
	return errors.Join(errs...)
}

// source is the shared random state behind every synthetic model.
type source struct {
	mu      sync.Mutex
	rng     *rand.Rand
	profile Profile
	clock   clock.Clock
}

func (s *source) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// score draws a uniform score from the profile range.
func (s *source) score() float64 {
	return s.profile.MinScore + s.float()*(s.profile.MaxScore-s.profile.MinScore)
}

// attempt waits a random latency, then fails with the profile's probability.
func (s *source) attempt(ctx context.Context, op string) error {
	if s.profile.MaxLatency > 0 {
		d := time.Duration(s.float() * float64(s.profile.MaxLatency))
		if err := s.clock.Sleep(ctx, d); err != nil {
			return err
		}
	}
	if s.float() < s.profile.FailureRate {
		return fmt.Errorf("%s: %w", op, ErrSimulated)
	}
	return nil
}

type simplifier struct{ *source }

func (m simplifier) Simplify(ctx context.Context, text string, grade int, _ string) (string, error) {
	if err := m.attempt(ctx, "simplify"); err != nil {
		return "", err
	}
	words := strings.Fields(text)
	if limit := grade * 4; len(words) > limit {
		words = words[:limit]
	}
	return strings.Join(words, " "), nil
}

type translator struct{ *source }

func (m translator) Translate(ctx context.Context, text, lang string) (string, error) {
	if err := m.attempt(ctx, "translate"); err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", lang, text), nil
}

type validator struct{ *source }

func (m validator) Validate(ctx context.Context, _, _ string, _ int, _ string) (float64, error) {
	if err := m.attempt(ctx, "validate"); err != nil {
		return 0, err
	}
	return m.score(), nil
}

type speech struct{ *source }

func (m speech) Synthesize(ctx context.Context, _, lang string) (pipeline.Audio, error) {
	if err := m.attempt(ctx, "synthesize"); err != nil {
		return pipeline.Audio{}, err
	}
	return pipeline.Audio{
		Ref:      fmt.Sprintf("sim://audio/%s/%s.wav", strings.ToLower(lang), uuid.NewString()),
		Accuracy: m.score(),
		Scored:   true,
	}, nil
}

// NewModels returns synthetic models for every stage sharing one seeded
// random source. Latency is spent through c.
func NewModels(p Profile, seed uint64, c clock.Clock) (pipeline.Models, error) {
	if err := p.Validate(); err != nil {
		return pipeline.Models{}, err
	}
	if c == nil {
		c = clock.New()
	}
	src := &source{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		profile: p,
		clock:   c,
	}
	return pipeline.Models{
		Simplifier: simplifier{src},
		Translator: translator{src},
		Validator:  validator{src},
		Speech:     speech{src},
	}, nil
}

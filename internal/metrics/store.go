// Package metrics keeps a bounded, time-ordered record of stage outcomes
// and answers windowed aggregate queries over it.
//
// Windows are half-open: an outcome belongs to window W evaluated at time
// now when now-W <= Timestamp < now. Outcomes are never mutated after
// Append; the oldest entries are overwritten once capacity is reached.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessonflow/internal/clock"
	"github.com/fyrsmithlabs/lessonflow/internal/logging"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

// DefaultCapacity is the number of outcomes retained in memory.
const DefaultCapacity = 100_000

// OutcomeSink durably records outcomes appended to a Store.
type OutcomeSink interface {
	AppendOutcome(ctx context.Context, o stage.Outcome) error
}

// Store is a concurrency-safe ring buffer of stage outcomes.
type Store struct {
	mu    sync.RWMutex
	buf   []stage.Outcome
	start int // index of the oldest entry
	size  int

	clock  clock.Clock
	sink   OutcomeSink
	logger *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity bounds the number of retained outcomes.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.buf = make([]stage.Outcome, n)
		}
	}
}

// WithClock sets the clock that defines "now" for windows.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithSink forwards every appended outcome to sink.
func WithSink(sink OutcomeSink) Option {
	return func(s *Store) { s.sink = sink }
}

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		buf:    make([]stage.Outcome, DefaultCapacity),
		clock:  clock.New(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records o. A zero Timestamp is set to the store clock's now.
// The outcome is retained in memory even when the sink fails; the sink
// error is returned for the caller to log.
func (s *Store) Append(ctx context.Context, o stage.Outcome) error {
	if !o.Stage.Valid() {
		return fmt.Errorf("append outcome: unknown stage %q", o.Stage)
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = s.clock.Now()
	}
	o = o.Clone()

	s.mu.Lock()
	s.push(o)
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.AppendOutcome(ctx, o.Clone()); err != nil {
			return fmt.Errorf("persist outcome: %w", err)
		}
	}
	return nil
}

// Restore loads previously persisted outcomes without forwarding them to
// the sink. Outcomes should be in timestamp order.
func (s *Store) Restore(outcomes []stage.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range outcomes {
		if o.Stage.Valid() {
			s.push(o.Clone())
		}
	}
}

// push must be called with mu held.
func (s *Store) push(o stage.Outcome) {
	c := len(s.buf)
	if s.size < c {
		s.buf[(s.start+s.size)%c] = o
		s.size++
		return
	}
	s.buf[s.start] = o
	s.start = (s.start + 1) % c
}

// Len returns the number of retained outcomes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Prune drops outcomes older than maxAge and returns how many were removed.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) int {
	cutoff := s.clock.Now().Add(-maxAge)

	s.mu.Lock()
	kept := make([]stage.Outcome, 0, s.size)
	s.each(func(o *stage.Outcome) {
		if !o.Timestamp.Before(cutoff) {
			kept = append(kept, *o)
		}
	})
	removed := s.size - len(kept)
	for i := range s.buf {
		s.buf[i] = stage.Outcome{}
	}
	copy(s.buf, kept)
	s.start, s.size = 0, len(kept)
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug(ctx, "pruned outcomes", zap.Int("removed", removed), zap.Duration("max_age", maxAge))
	}
	return removed
}

// Snapshot returns copies of the outcomes inside window, oldest first.
func (s *Store) Snapshot(window time.Duration) []stage.Outcome {
	var out []stage.Outcome
	s.scan(window, func(o *stage.Outcome) {
		out = append(out, o.Clone())
	})
	return out
}

// each visits entries oldest first; mu must be held.
func (s *Store) each(fn func(*stage.Outcome)) {
	c := len(s.buf)
	for i := 0; i < s.size; i++ {
		fn(&s.buf[(s.start+i)%c])
	}
}

// scan visits entries inside [now-window, now) under one read lock.
func (s *Store) scan(window time.Duration, fn func(*stage.Outcome)) {
	now := s.clock.Now()
	from := now.Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()
	s.each(func(o *stage.Outcome) {
		if !o.Timestamp.Before(from) && o.Timestamp.Before(now) {
			fn(o)
		}
	})
}

package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessonflow/internal/clock"
	"github.com/fyrsmithlabs/lessonflow/internal/logging"
)

// Func is one attempt of stage work
type Func[T any] func(ctx context.Context) (T, error)

// Executor applies a retry Policy to stage work
type Executor struct {
	policy Policy
	clock  clock.Clock
	logger *logging.Logger
	tracer trace.Tracer
}

// Option configures an Executor
type Option func(*Executor)

// WithClock sets the clock used for backoff sleeps and timestamps
func WithClock(c clock.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the executor logger
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTracer sets the tracer used for per-stage spans
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// NewExecutor creates an executor for policy
func NewExecutor(policy Policy, opts ...Option) *Executor {
	e := &Executor{
		policy: policy,
		clock:  clock.New(),
		logger: logging.NewNop(),
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's retry policy
func (e *Executor) Policy() Policy { return e.policy }

// Clock returns the executor's clock
func (e *Executor) Clock() clock.Clock { return e.clock }

// Run executes fn until it succeeds, fails with a non-retryable kind, or
// exhausts the retry budget. Exactly one Outcome is produced per call.
//
// The Outcome's Duration covers the final attempt only. A terminal failure
// returns *Error wrapping the last attempt's error.
func Run[T any](ctx context.Context, e *Executor, id ID, fn Func[T]) (T, Outcome, error) {
	var zero T

	ctx = logging.WithStage(ctx, string(id))
	ctx, span := e.tracer.Start(ctx, "stage."+string(id),
		trace.WithAttributes(attribute.String("stage", string(id))))
	defer span.End()

	for attempt := 0; ; attempt++ {
		start := e.clock.Now()
		val, err := runAttempt(ctx, e.policy.AttemptTimeout, fn)
		end := e.clock.Now()

		out := Outcome{
			Stage:      id,
			StartedAt:  start,
			Duration:   end.Sub(start),
			Success:    err == nil,
			RetryCount: attempt,
			Timestamp:  end,
		}

		if err == nil {
			span.SetAttributes(attribute.Int("stage.retry_count", attempt))
			e.logger.Debug(ctx, "stage succeeded",
				zap.Int("retry_count", attempt),
				zap.Duration("duration", out.Duration))
			return val, out, nil
		}

		kind := KindOf(err)
		if ctx.Err() != nil {
			kind = KindCanceled
		}

		if !e.policy.Retryable(kind) || attempt >= e.policy.MaxRetries {
			out, serr := e.fail(ctx, span, out, kind, err)
			return zero, out, serr
		}

		delay := e.policy.Backoff(attempt)
		e.logger.Warn(ctx, "stage attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.String("error_kind", string(kind)),
			zap.Duration("backoff", delay),
			zap.Error(err))

		if e.clock.Sleep(ctx, delay) != nil {
			out, serr := e.fail(ctx, span, out, KindCanceled, err)
			return zero, out, serr
		}
	}
}

func (e *Executor) fail(ctx context.Context, span trace.Span, out Outcome, kind Kind, err error) (Outcome, error) {
	out.Success = false
	out.ErrorKind = kind
	out.Error = err.Error()

	span.SetAttributes(
		attribute.Int("stage.retry_count", out.RetryCount),
		attribute.String("stage.error_kind", string(kind)))
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))

	e.logger.Error(ctx, "stage failed",
		zap.Int("attempts", out.RetryCount+1),
		zap.String("error_kind", string(kind)),
		zap.Error(err))

	return out, &Error{Stage: out.Stage, Attempts: out.RetryCount + 1, Kind: kind, Err: err}
}

// runAttempt calls fn once, bounding it by timeout when positive and
// converting panics into transient errors.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn Func[T]) (T, error) {
	if timeout <= 0 {
		return call(ctx, fn)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := call(actx, fn)
		ch <- result{v, err}
	}()

	var zero T
	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, r.err)
		}
		return r.val, r.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func call[T any](ctx context.Context, fn Func[T]) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage work panicked: %v", r)
		}
	}()
	return fn(ctx)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessonflow/internal/logging"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

const instrumentationName = "github.com/fyrsmithlabs/lessonflow/internal/pipeline"

var (
	errEmptySimplification = errors.New("simplification produced empty result")
	errEmptyTranslation    = errors.New("translation produced empty result")
	errEmptyAudio          = errors.New("speech generation produced empty audio")
	errNoSpeechModel       = errors.New("no speech synthesizer configured")
)

// Orchestrator drives requests through the fixed stage order
type Orchestrator struct {
	models    Models
	exec      *stage.Executor
	threshold float64

	recorder Recorder
	alerts   AlertSink
	store    ContentStore
	logger   *logging.Logger
	tracer   trace.Tracer
	progress ProgressCallback

	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
	outcomes    metric.Int64Counter
	retries     metric.Int64Counter
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithQualityThreshold sets the minimum alignment score
func WithQualityThreshold(t float64) Option {
	return func(o *Orchestrator) { o.threshold = t }
}

// WithRecorder sets where stage outcomes are flushed
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithAlerts sets the sink for failure alerts
func WithAlerts(a AlertSink) Option {
	return func(o *Orchestrator) { o.alerts = a }
}

// WithContentStore sets where passed runs are persisted
func WithContentStore(s ContentStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithLogger sets the orchestrator logger
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTelemetry sets the tracer and meter used for run instrumentation
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
		o.initMetrics(meter)
	}
}

// OnProgress sets the progress callback
func OnProgress(cb ProgressCallback) Option {
	return func(o *Orchestrator) { o.progress = cb }
}

// New creates an orchestrator. Simplifier, Translator and Validator are
// required.
func New(models Models, exec *stage.Executor, opts ...Option) (*Orchestrator, error) {
	var missing []string
	if models.Simplifier == nil {
		missing = append(missing, "simplifier")
	}
	if models.Translator == nil {
		missing = append(missing, "translator")
	}
	if models.Validator == nil {
		missing = append(missing, "validator")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing models: %s", strings.Join(missing, ", "))
	}
	if exec == nil {
		exec = stage.NewExecutor(stage.DefaultPolicy())
	}

	o := &Orchestrator{
		models:    models,
		exec:      exec,
		threshold: DefaultQualityThreshold,
		logger:    logging.NewNop(),
		tracer:    noop.NewTracerProvider().Tracer(instrumentationName),
	}
	o.initMetrics(metricnoop.NewMeterProvider().Meter(instrumentationName))
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) initMetrics(meter metric.Meter) {
	var err error

	o.runs, err = meter.Int64Counter("lessonflow.pipeline.runs",
		metric.WithDescription("Pipeline runs labeled by final status"),
		metric.WithUnit("{run}"))
	if err != nil {
		o.logger.Warn(context.Background(), "failed to create runs counter", zap.Error(err))
	}

	o.runDuration, err = meter.Float64Histogram("lessonflow.pipeline.run_duration_seconds",
		metric.WithDescription("Wall time of a pipeline run including backoff, labeled by status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300))
	if err != nil {
		o.logger.Warn(context.Background(), "failed to create run duration histogram", zap.Error(err))
	}

	o.outcomes, err = meter.Int64Counter("lessonflow.stage.outcomes",
		metric.WithDescription("Final stage outcomes labeled by stage and success"),
		metric.WithUnit("{outcome}"))
	if err != nil {
		o.logger.Warn(context.Background(), "failed to create outcomes counter", zap.Error(err))
	}

	o.retries, err = meter.Int64Counter("lessonflow.stage.retries",
		metric.WithDescription("Retries spent by stages, labeled by stage"),
		metric.WithUnit("{retry}"))
	if err != nil {
		o.logger.Warn(context.Background(), "failed to create retries counter", zap.Error(err))
	}
}

// QualityThreshold returns the alignment score a run must reach
func (o *Orchestrator) QualityThreshold() float64 { return o.threshold }

// Process runs req through every applicable stage.
//
// Invalid requests fail before any stage executes. A terminal stage
// failure aborts the remaining stages and returns the *stage.Error; the
// returned Run is never nil. Outcomes recorded before the failure are
// still flushed to the recorder.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Run, error) {
	run := newRun(req, o.exec.Clock().Now())

	ctx = logging.WithRunID(ctx, run.ID)
	ctx, span := o.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("request.language", req.TargetLanguage),
		attribute.Int("request.grade", req.Grade),
		attribute.String("request.format", string(req.OutputFormat))))
	defer span.End()

	defer o.finish(ctx, run)

	if err := o.validate(req); err != nil {
		run.Failure = err.Error()
		o.complete(run, StatusFailed)
		span.SetStatus(codes.Error, "invalid input")
		o.logger.Warn(ctx, "rejected invalid request", zap.Error(err))
		return run, err
	}

	o.logger.Info(ctx, "pipeline run started",
		zap.String("language", req.TargetLanguage),
		zap.Int("grade", req.Grade),
		zap.String("subject", req.Subject),
		zap.String("format", string(req.OutputFormat)))

	if err := o.execute(ctx, run); err != nil {
		o.complete(run, StatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, run.Failure)
		return run, err
	}

	o.complete(run, StatusPassed)
	span.SetAttributes(attribute.Float64("run.quality_score", run.QualityScore))

	if o.store != nil {
		if err := o.store.SaveRun(ctx, run); err != nil {
			o.logger.Error(ctx, "failed to store run", zap.Error(err))
			return run, fmt.Errorf("store run %s: %w", run.ID, err)
		}
	}

	o.logger.Info(ctx, "pipeline run passed",
		zap.Float64("quality_score", run.QualityScore),
		zap.Duration("duration", run.Duration()))
	return run, nil
}

// validate checks req and that a speech synthesizer exists when audio is requested
func (o *Orchestrator) validate(req Request) error {
	err := req.Validate()
	if !req.NeedsSpeech() || o.models.Speech != nil {
		return err
	}
	var inv *stage.InvalidInputError
	if errors.As(err, &inv) {
		inv.Reasons = append(inv.Reasons, errNoSpeechModel.Error())
		return inv
	}
	return &stage.InvalidInputError{Reasons: []string{errNoSpeechModel.Error()}}
}

// execute drives the stage sequence, stopping at the first terminal failure
func (o *Orchestrator) execute(ctx context.Context, run *Run) error {
	req := run.Request
	total := len(req.Stages())

	simplified, err := runStage(ctx, o, run, stage.Simplification, 0, total, func(ctx context.Context) (string, error) {
		out, err := o.models.Simplifier.Simplify(ctx, req.Text, req.Grade, req.Subject)
		if err == nil && strings.TrimSpace(out) == "" {
			err = errEmptySimplification
		}
		return out, err
	}, nil)
	if err != nil {
		return err
	}
	run.SimplifiedText = simplified

	translated, err := runStage(ctx, o, run, stage.Translation, 1, total, func(ctx context.Context) (string, error) {
		out, err := o.models.Translator.Translate(ctx, simplified, req.TargetLanguage)
		if err == nil && strings.TrimSpace(out) == "" {
			err = errEmptyTranslation
		}
		return out, err
	}, languageMeta(req))
	if err != nil {
		return err
	}
	run.TranslatedText = translated

	score, err := runStage(ctx, o, run, stage.Validation, 2, total, func(ctx context.Context) (float64, error) {
		s, err := o.models.Validator.Validate(ctx, req.Text, translated, req.Grade, req.Subject)
		if err != nil {
			return 0, err
		}
		if s < o.threshold {
			return 0, &stage.QualityGateError{Metric: AlignmentMetric, Score: s, Threshold: o.threshold}
		}
		return s, nil
	}, o.scoreMeta)
	if err != nil {
		run.QualityScore = gateScore(err)
		return err
	}
	run.QualityScore = score

	if !req.NeedsSpeech() {
		return nil
	}

	audio, err := runStage(ctx, o, run, stage.Speech, 3, total, func(ctx context.Context) (Audio, error) {
		a, err := o.models.Speech.Synthesize(ctx, translated, req.TargetLanguage)
		if err == nil && a.Ref == "" {
			err = errEmptyAudio
		}
		return a, err
	}, func(a Audio, err error) map[string]any {
		m := map[string]any{"target_language": req.TargetLanguage}
		if err == nil && a.Scored {
			m[AudioAccuracyMetric] = a.Accuracy
		}
		return m
	})
	if err != nil {
		return err
	}
	run.AudioRef = audio.Ref
	if audio.Scored {
		run.AudioAccuracy = &audio.Accuracy
	}
	return nil
}

// runStage executes one stage, appends its outcome to run, and raises
// alerts on terminal failure. meta, when set, receives the stage result and
// returns the outcome's metadata.
func runStage[T any](ctx context.Context, o *Orchestrator, run *Run, id stage.ID, idx, total int, fn stage.Func[T], meta func(T, error) map[string]any) (T, error) {
	o.report(Progress{
		RunID:      run.ID,
		Stage:      id,
		Status:     StatusRunning,
		Message:    fmt.Sprintf("Starting stage: %s", id),
		Percentage: idx * 100 / total,
	})

	val, out, err := stage.Run(ctx, o.exec, id, fn)

	if meta != nil {
		out.Metadata = meta(val, err)
	}
	run.Outcomes = append(run.Outcomes, out)

	attrs := metric.WithAttributes(attribute.String("stage", string(id)), attribute.Bool("success", out.Success))
	o.outcomes.Add(ctx, 1, attrs)
	if out.RetryCount > 0 {
		o.retries.Add(ctx, int64(out.RetryCount), metric.WithAttributes(attribute.String("stage", string(id))))
	}

	if err != nil {
		run.FailedStage = id
		run.Failure = err.Error()
		o.report(Progress{
			RunID:      run.ID,
			Stage:      id,
			Status:     StatusFailed,
			Message:    fmt.Sprintf("Stage %s failed: %s", id, out.Error),
			Percentage: idx * 100 / total,
		})
		o.raiseAlerts(ctx, run, out, err)
		return val, err
	}

	o.report(Progress{
		RunID:      run.ID,
		Stage:      id,
		Status:     StatusPassed,
		Message:    fmt.Sprintf("Completed stage: %s", id),
		Percentage: (idx + 1) * 100 / total,
	})
	return val, nil
}

// raiseAlerts reports a terminal stage failure. Cancellation by the caller
// is not a pipeline fault and raises nothing.
func (o *Orchestrator) raiseAlerts(ctx context.Context, run *Run, out stage.Outcome, err error) {
	if o.alerts == nil || out.ErrorKind == stage.KindCanceled {
		return
	}
	ctx = context.WithoutCancel(ctx)

	o.alerts.AlertStageFailure(ctx, out.Stage, run.ID, out.Error, out.RetryCount)

	switch out.ErrorKind {
	case stage.KindQualityGate:
		var qg *stage.QualityGateError
		if errors.As(err, &qg) {
			o.alerts.AlertQualityThreshold(ctx, run.ID, qg.Metric, qg.Score, qg.Threshold)
		}
	case stage.KindTimeout:
		o.alerts.AlertProcessingTimeout(ctx, out.Stage, run.ID, o.exec.Policy().AttemptTimeout)
	}
}

func languageMeta(req Request) func(string, error) map[string]any {
	return func(string, error) map[string]any {
		return map[string]any{"target_language": req.TargetLanguage}
	}
}

// scoreMeta records the alignment score of a validation outcome. A gate
// miss carries its score in the error.
func (o *Orchestrator) scoreMeta(score float64, err error) map[string]any {
	if err != nil {
		score = gateScore(err)
	}
	return map[string]any{AlignmentMetric: score, "threshold": o.threshold}
}

// gateScore returns the score of a quality gate miss, or 0 for any other
// failure
func gateScore(err error) float64 {
	var qg *stage.QualityGateError
	if errors.As(err, &qg) {
		return qg.Score
	}
	return 0
}

func (o *Orchestrator) complete(run *Run, status Status) {
	run.Status = status
	run.CompletedAt = o.exec.Clock().Now()
}

// finish flushes outcomes and records run metrics. Recording failures are
// logged and never change the run result.
func (o *Orchestrator) finish(ctx context.Context, run *Run) {
	ctx = context.WithoutCancel(ctx)

	if o.recorder != nil {
		for _, out := range run.Outcomes {
			if err := o.recorder.Append(ctx, out); err != nil {
				o.logger.Warn(ctx, "failed to record stage outcome",
					zap.String("stage", string(out.Stage)),
					zap.Error(err))
			}
		}
	}

	attrs := metric.WithAttributes(attribute.String("status", string(run.Status)))
	o.runs.Add(ctx, 1, attrs)
	o.runDuration.Record(ctx, run.Duration().Seconds(), attrs)
}

func (o *Orchestrator) report(p Progress) {
	if o.progress != nil {
		o.progress(p)
	}
}

package pipeline

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/lessonflow/internal/alerts"
	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

// Simplifier rewrites text for a grade and subject
type Simplifier interface {
	Simplify(ctx context.Context, text string, grade int, subject string) (string, error)
}

// Translator renders text in a target language
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// Validator scores how well translated content aligns with the curriculum
// for grade and subject, in [0, 1]
type Validator interface {
	Validate(ctx context.Context, original, translated string, grade int, subject string) (float64, error)
}

// Audio is the result of speech synthesis
type Audio struct {
	// Ref locates the audio, e.g. a file path
	Ref string
	// Accuracy is how closely a transcription of the audio matches the
	// source text, in [0, 1]. Only meaningful when Scored is true.
	Accuracy float64
	Scored   bool
}

// SpeechSynthesizer produces audio for text
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, language string) (Audio, error)
}

// Models bundles the stage work providers. Speech may be nil when no
// request asks for audio.
type Models struct {
	Simplifier Simplifier
	Translator Translator
	Validator  Validator
	Speech     SpeechSynthesizer
}

// Recorder receives every final stage outcome
type Recorder interface {
	Append(ctx context.Context, o stage.Outcome) error
}

// AlertSink receives event alerts raised by the orchestrator
type AlertSink interface {
	AlertStageFailure(ctx context.Context, id stage.ID, runID, errMsg string, retryCount int) alerts.Alert
	AlertQualityThreshold(ctx context.Context, runID, metricName string, score, threshold float64) alerts.Alert
	AlertProcessingTimeout(ctx context.Context, id stage.ID, runID string, timeout time.Duration) alerts.Alert
}

// ContentStore persists runs that passed every stage
type ContentStore interface {
	SaveRun(ctx context.Context, run *Run) error
}

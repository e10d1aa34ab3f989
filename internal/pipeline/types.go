// Package pipeline sequences the fixed lesson processing stages under a
// quality gate and records every stage outcome.
package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

// Grade bounds accepted by Validate
const (
	MinGrade = 5
	MaxGrade = 12
)

// DefaultQualityThreshold is the minimum alignment score a run must reach
const DefaultQualityThreshold = 0.80

// AlignmentMetric names the score computed by the validation stage
const AlignmentMetric = "alignment_score"

// AudioAccuracyMetric names the transcription accuracy of synthesized speech
const AudioAccuracyMetric = "audio_accuracy"

// SupportedLanguages lists the target languages in display order
func SupportedLanguages() []string {
	return []string{"Hindi", "Tamil", "Telugu", "Bengali", "Marathi"}
}

// SupportedSubjects lists the accepted curriculum subjects
func SupportedSubjects() []string {
	return []string{"Mathematics", "Science", "Social Studies", "English", "History", "Geography"}
}

// OutputFormat selects which artifacts a run produces
type OutputFormat string

const (
	FormatText  OutputFormat = "text"
	FormatAudio OutputFormat = "audio"
	FormatBoth  OutputFormat = "both"
)

// SupportedFormats lists the accepted output formats
func SupportedFormats() []OutputFormat {
	return []OutputFormat{FormatText, FormatAudio, FormatBoth}
}

// Request holds the input parameters of one run
type Request struct {
	Text           string       `json:"text"`
	TargetLanguage string       `json:"target_language"`
	Grade          int          `json:"grade"`
	Subject        string       `json:"subject"`
	OutputFormat   OutputFormat `json:"output_format"`
}

// NeedsSpeech reports whether the speech stage applies
func (r Request) NeedsSpeech() bool {
	return r.OutputFormat == FormatAudio || r.OutputFormat == FormatBoth
}

// Validate returns a *stage.InvalidInputError listing every violated
// constraint, or nil
func (r Request) Validate() error {
	var reasons []string
	if strings.TrimSpace(r.Text) == "" {
		reasons = append(reasons, "text cannot be empty or whitespace only")
	}
	if !slices.Contains(SupportedLanguages(), r.TargetLanguage) {
		reasons = append(reasons, fmt.Sprintf("target_language must be one of %s, got %q",
			strings.Join(SupportedLanguages(), ", "), r.TargetLanguage))
	}
	if r.Grade < MinGrade || r.Grade > MaxGrade {
		reasons = append(reasons, fmt.Sprintf("grade must be between %d and %d, got %d", MinGrade, MaxGrade, r.Grade))
	}
	if !slices.Contains(SupportedSubjects(), r.Subject) {
		reasons = append(reasons, fmt.Sprintf("subject must be one of %s, got %q",
			strings.Join(SupportedSubjects(), ", "), r.Subject))
	}
	if !slices.Contains(SupportedFormats(), r.OutputFormat) {
		reasons = append(reasons, fmt.Sprintf("output_format must be one of text, audio, both, got %q", r.OutputFormat))
	}
	if len(reasons) > 0 {
		return &stage.InvalidInputError{Reasons: reasons}
	}
	return nil
}

// Stages returns the stages that apply to r in execution order
func (r Request) Stages() []stage.ID {
	if r.NeedsSpeech() {
		return stage.All()
	}
	return []stage.ID{stage.Simplification, stage.Translation, stage.Validation}
}

// Status is the lifecycle state of a run
type Status string

const (
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
)

// Run is one request's pass through the pipeline
type Run struct {
	ID       string          `json:"id"`
	Request  Request         `json:"request"`
	Outcomes []stage.Outcome `json:"outcomes"`
	Status   Status          `json:"status"`

	QualityScore   float64 `json:"quality_score"`
	SimplifiedText string  `json:"simplified_text,omitempty"`
	TranslatedText string  `json:"translated_text,omitempty"`
	AudioRef       string  `json:"audio_ref,omitempty"`
	// AudioAccuracy is set when the synthesized audio was scored
	AudioAccuracy *float64 `json:"audio_accuracy,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// FailedStage and Failure describe a terminal failure
	FailedStage stage.ID `json:"failed_stage,omitempty"`
	Failure     string   `json:"failure,omitempty"`
}

func newRun(req Request, now time.Time) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    StatusRunning,
		StartedAt: now,
	}
}

// Duration returns the wall time between start and completion
func (r *Run) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Progress reports a stage transition during a run
type Progress struct {
	RunID      string   `json:"run_id"`
	Stage      stage.ID `json:"stage"`
	Status     Status   `json:"status"`
	Message    string   `json:"message"`
	Percentage int      `json:"percentage"`
}

// ProgressCallback receives progress updates during a run
type ProgressCallback func(p Progress)

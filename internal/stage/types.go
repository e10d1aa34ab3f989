// Package stage executes one unit of pipeline work with bounded retry and
// exponential backoff, producing an Outcome for every execution.
package stage

import (
	"encoding/json"
	"maps"
	"time"
)

// ID names a pipeline stage
type ID string

const (
	// Simplification rewrites source text for the target grade
	Simplification ID = "simplification"

	// Translation renders the simplified text in the target language
	Translation ID = "translation"

	// Validation scores alignment between source and translated text
	Validation ID = "validation"

	// Speech synthesizes audio for the translated text
	Speech ID = "speech"
)

// All returns every stage in execution order
func All() []ID {
	return []ID{Simplification, Translation, Validation, Speech}
}

// Valid reports whether id is a known stage
func (id ID) Valid() bool {
	switch id {
	case Simplification, Translation, Validation, Speech:
		return true
	}
	return false
}

func (id ID) String() string { return string(id) }

// Outcome records the final attempt of one stage execution.
// It is immutable once handed to a recorder; Clone before modifying a copy.
type Outcome struct {
	Stage      ID             `json:"stage"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"-"`
	Success    bool           `json:"success"`
	ErrorKind  Kind           `json:"error_kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	RetryCount int            `json:"retry_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Clone returns a copy with its own metadata map
func (o Outcome) Clone() Outcome {
	if o.Metadata != nil {
		o.Metadata = maps.Clone(o.Metadata)
	}
	return o
}

type outcomeJSON Outcome

// MarshalJSON encodes Duration as fractional milliseconds in duration_ms
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		outcomeJSON
		DurationMS float64 `json:"duration_ms"`
	}{
		outcomeJSON: outcomeJSON(o),
		DurationMS:  float64(o.Duration) / float64(time.Millisecond),
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON
func (o *Outcome) UnmarshalJSON(b []byte) error {
	var aux struct {
		outcomeJSON
		DurationMS float64 `json:"duration_ms"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*o = Outcome(aux.outcomeJSON)
	o.Duration = time.Duration(aux.DurationMS * float64(time.Millisecond))
	return nil
}

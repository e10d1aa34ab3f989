package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		reasons []string
	}{
		{"valid", func(*Request) {}, nil},
		{"lowest grade", func(r *Request) { r.Grade = MinGrade }, nil},
		{"highest grade", func(r *Request) { r.Grade = MaxGrade }, nil},
		{"grade too low", func(r *Request) { r.Grade = 4 }, []string{"grade must be between 5 and 12, got 4"}},
		{"empty text", func(r *Request) { r.Text = "" }, []string{"text cannot be empty or whitespace only"}},
		{"whitespace text", func(r *Request) { r.Text = "\n\t " }, []string{"text cannot be empty or whitespace only"}},
		{"language is case sensitive", func(r *Request) { r.TargetLanguage = "hindi" },
			[]string{`target_language must be one of Hindi, Tamil, Telugu, Bengali, Marathi, got "hindi"`}},
		{"bad format", func(r *Request) { r.OutputFormat = "pdf" },
			[]string{`output_format must be one of text, audio, both, got "pdf"`}},
		{"several problems", func(r *Request) { r.Subject = "Music"; r.Grade = 20 },
			[]string{
				"grade must be between 5 and 12, got 20",
				`subject must be one of Mathematics, Science, Social Studies, English, History, Geography, got "Music"`,
			}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := textRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.reasons == nil {
				assert.NoError(t, err)
				return
			}
			var inv *stage.InvalidInputError
			require.ErrorAs(t, err, &inv)
			assert.Equal(t, tt.reasons, inv.Reasons)
		})
	}
}

func TestRequest_Stages(t *testing.T) {
	req := textRequest()
	assert.Equal(t, []stage.ID{stage.Simplification, stage.Translation, stage.Validation}, req.Stages())
	assert.False(t, req.NeedsSpeech())

	for _, f := range []OutputFormat{FormatAudio, FormatBoth} {
		req.OutputFormat = f
		assert.True(t, req.NeedsSpeech())
		assert.Equal(t, stage.All(), req.Stages())
	}
}

func TestRun_Duration(t *testing.T) {
	r := newRun(textRequest(), epoch)
	assert.Equal(t, StatusRunning, r.Status)
	assert.Zero(t, r.Duration())

	r.CompletedAt = epoch.Add(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, r.Duration())
}

package inference

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/lessonflow/internal/config"
	"github.com/fyrsmithlabs/lessonflow/internal/logging"
)

type capturedRequest struct {
	Path        string
	Auth        string
	ContentType string
	Raw         []byte
	Body        map[string]any
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []capturedRequest
	handler  func(w http.ResponseWriter, model string)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{
		Path:        r.URL.Path,
		Auth:        r.Header.Get("Authorization"),
		ContentType: r.Header.Get("Content-Type"),
		Raw:         raw,
		Body:        body,
	})
	f.mu.Unlock()

	f.handler(w, strings.TrimPrefix(r.URL.Path, "/models/"))
}

func (f *fakeAPI) last(t *testing.T) capturedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, model string), opts ...ClientOption) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{handler: handler}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := config.InferenceConfig{
		BaseURL:           srv.URL + "/",
		APIKey:            config.Secret("hf_test"),
		RequestsPerMinute: 6000,
		Burst:             10,
		Timeout:           config.Duration(5 * time.Second),
	}
	c, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	return c, api
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(config.InferenceConfig{BaseURL: "http://localhost"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewClient(config.InferenceConfig{APIKey: "hf_x"})
	assert.Error(t, err)
}

func TestClient_PostSendsBearerToken(t *testing.T) {
	tl := logging.NewTestLogger()
	c, api := newTestClient(t, func(w http.ResponseWriter, _ string) {
		writeJSON(w, map[string]string{"ok": "yes"})
	}, WithLogger(tl.Logger))

	body, err := c.Post(context.Background(), "org/model", map[string]string{"inputs": "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":"yes"}`, string(body))

	req := api.last(t)
	assert.Equal(t, "/models/org/model", req.Path)
	assert.Equal(t, "Bearer hf_test", req.Auth)
	assert.Equal(t, "hi", req.Body["inputs"])

	tl.AssertLogged(t, zapcore.DebugLevel, "inference request")
	tl.AssertField(t, "inference request", "model", "org/model")
	for _, e := range tl.FilterMessage("inference request").All() {
		assert.NotContains(t, e.ContextMap(), "authorization")
	}
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
		contains  string
	}{
		{"model loading", http.StatusServiceUnavailable, true, "is loading"},
		{"rate limited", http.StatusTooManyRequests, true, "429"},
		{"bad request", http.StatusBadRequest, false, "400"},
		{"unauthorized", http.StatusUnauthorized, false, "401"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ string) {
				http.Error(w, strings.Repeat("x", 2000), tt.status)
			})
			_, err := c.Post(context.Background(), "m", nil)
			require.Error(t, err)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.retryable, se.Retryable())
			assert.Contains(t, err.Error(), tt.contains)
			assert.LessOrEqual(t, len(se.Body), maxErrorBody)
		})
	}
}

func TestClient_RateLimiterHonorsContext(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ string) {
		writeJSON(w, []any{})
	}, WithLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))

	_, err := c.Post(context.Background(), "m", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Post(ctx, "m", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

func TestSimplifier(t *testing.T) {
	c, api := newTestClient(t, func(w http.ResponseWriter, _ string) {
		writeJSON(w, []map[string]string{{"generated_text": "  Plants make food from light.  "}})
	})

	got, err := NewSimplifier(c, "google/flan-t5-base").Simplify(context.Background(), "Photosynthesis converts light.", 6, "Science")
	require.NoError(t, err)
	assert.Equal(t, "Plants make food from light.", got)

	req := api.last(t)
	assert.Equal(t, "/models/google/flan-t5-base", req.Path)
	assert.Equal(t, "Simplify the following Science text for grade 6 students: Photosynthesis converts light.", req.Body["inputs"])
	params := req.Body["parameters"].(map[string]any)
	assert.Equal(t, float64(512), params["max_length"])
	assert.Equal(t, true, params["do_sample"])
}

func TestSimplifier_ObjectResponseAndEmpty(t *testing.T) {
	responses := []any{map[string]string{"generated_text": "short"}, []any{}}
	var i int
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ string) {
		writeJSON(w, responses[i])
		i++
	})
	s := NewSimplifier(c, "m")

	got, err := s.Simplify(context.Background(), "x", 5, "Math")
	require.NoError(t, err)
	assert.Equal(t, "short", got)

	got, err = s.Simplify(context.Background(), "x", 5, "Math")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTranslator(t *testing.T) {
	c, api := newTestClient(t, func(w http.ResponseWriter, _ string) {
		writeJSON(w, []map[string]string{{"translation_text": "पौधे भोजन बनाते हैं"}})
	})
	tr := NewTranslator(c, "ai4bharat/indictrans2-en-indic-1B")

	got, err := tr.Translate(context.Background(), "Plants make food.", "Hindi")
	require.NoError(t, err)
	assert.Equal(t, "पौधे भोजन बनाते हैं", got)

	params := api.last(t).Body["parameters"].(map[string]any)
	assert.Equal(t, "eng_Latn", params["src_lang"])
	assert.Equal(t, "hin_Deva", params["tgt_lang"])

	_, err = tr.Translate(context.Background(), "x", "French")
	assert.ErrorContains(t, err, "unsupported language")
}

func TestValidator(t *testing.T) {
	scores := [][]float64{{0.87}, {1.4}, {}}
	var i int
	c, api := newTestClient(t, func(w http.ResponseWriter, _ string) {
		writeJSON(w, scores[i])
		i++
	})
	v := NewValidator(c, "bert")

	got, err := v.Validate(context.Background(), "source", "translated", 7, "History")
	require.NoError(t, err)
	assert.InDelta(t, 0.87, got, 1e-9)

	inputs := api.last(t).Body["inputs"].(map[string]any)
	assert.Equal(t, "source", inputs["source_sentence"])
	assert.Equal(t, []any{"translated"}, inputs["sentences"])

	got, err = v.Validate(context.Background(), "a", "b", 7, "History")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	_, err = v.Validate(context.Background(), "a", "b", 7, "History")
	assert.ErrorContains(t, err, "no scores")
}

func TestSpeech_WritesAudio(t *testing.T) {
	audio := []byte("fLaC-fake-audio")
	c, api := newTestClient(t, func(w http.ResponseWriter, _ string) {
		w.Header().Set("Content-Type", "audio/flac")
		_, _ = w.Write(audio)
	})
	dir := filepath.Join(t.TempDir(), "audio")

	got, err := NewSpeech(c, "facebook/mms-tts-", "", dir).Synthesize(context.Background(), "வணக்கம்", "Tamil")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(got.Ref))
	assert.Equal(t, ".flac", filepath.Ext(got.Ref))
	assert.False(t, got.Scored)

	data, err := os.ReadFile(got.Ref)
	require.NoError(t, err)
	assert.Equal(t, audio, data)
	assert.Equal(t, "/models/facebook/mms-tts-tam", api.last(t).Path)
}

func TestSpeech_ScoresTranscription(t *testing.T) {
	audio := []byte("RIFF-fake-wav")
	c, api := newTestClient(t, func(w http.ResponseWriter, model string) {
		if model == "whisper" {
			writeJSON(w, map[string]string{"text": "पौधे भोजन बनाते"})
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio)
	})

	got, err := NewSpeech(c, "mms-", "whisper", t.TempDir()).Synthesize(context.Background(), "पौधे प्रकाश से भोजन बनाते हैं।", "Hindi")
	require.NoError(t, err)
	require.True(t, got.Scored)
	// 3 shared words out of 6 distinct
	assert.InDelta(t, 0.5, got.Accuracy, 1e-9)

	req := api.last(t)
	assert.Equal(t, "/models/whisper", req.Path)
	assert.Equal(t, "audio/wav", req.ContentType)
	assert.Equal(t, audio, req.Raw)
}

func TestSpeech_TranscriptionFailureLeavesUnscored(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, model string) {
		if model == "whisper" {
			http.Error(w, "loading", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("audio"))
	})

	got, err := NewSpeech(c, "mms-", "whisper", t.TempDir()).Synthesize(context.Background(), "x", "Marathi")
	require.NoError(t, err)
	assert.NotEmpty(t, got.Ref)
	assert.False(t, got.Scored)
}

func TestSpeech_EmptyAudio(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ string) {
		w.WriteHeader(http.StatusOK)
	})
	_, err := NewSpeech(c, "p-", "", t.TempDir()).Synthesize(context.Background(), "x", "Bengali")
	assert.ErrorContains(t, err, "no audio")
}

func TestWordOverlap(t *testing.T) {
	assert.Equal(t, 1.0, wordOverlap("", ""))
	assert.Equal(t, 0.0, wordOverlap("plants", ""))
	assert.Equal(t, 1.0, wordOverlap("Plants grow.", "plants GROW"))
	assert.InDelta(t, 1.0/3.0, wordOverlap("a b", "b c"), 1e-9)
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("ह", 200) // 3 bytes each
	got := truncate(s, maxErrorBody)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxErrorBody)
	assert.Equal(t, maxErrorBody/3*3, len(got))
	assert.Equal(t, "short", truncate("short", maxErrorBody))
}

func TestClient_RejectsOversizedResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ string) {
		_, _ = w.Write(make([]byte, maxResponseBody+1))
	})
	_, err := c.Post(context.Background(), "big", map[string]string{})
	assert.ErrorContains(t, err, "exceeds")
}

func TestAudioExtension(t *testing.T) {
	assert.Equal(t, ".flac", audioExtension("audio/x-flac"))
	assert.Equal(t, ".mp3", audioExtension("audio/mpeg"))
	assert.Equal(t, ".wav", audioExtension("audio/wav; codec=pcm"))
	assert.Equal(t, ".wav", audioExtension(""))
}

func TestNewModels(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ string) {})
	m := NewModels(c, config.Default().Inference.Models, t.TempDir())
	assert.NotNil(t, m.Simplifier)
	assert.NotNil(t, m.Translator)
	assert.NotNil(t, m.Validator)
	require.IsType(t, &Speech{}, m.Speech)
	assert.Equal(t, "openai/whisper-large-v3", m.Speech.(*Speech).asr)
}

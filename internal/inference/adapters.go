package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lessonflow/internal/config"
	"github.com/fyrsmithlabs/lessonflow/internal/pipeline"
)

const sourceLanguage = "eng_Latn"

// language maps a supported target language to its translation script code
// and its speech model suffix.
type language struct {
	script string
	speech string
}

var languages = map[string]language{
	"Hindi":   {script: "hin_Deva", speech: "hin"},
	"Tamil":   {script: "tam_Taml", speech: "tam"},
	"Telugu":  {script: "tel_Telu", speech: "tel"},
	"Bengali": {script: "ben_Beng", speech: "ben"},
	"Marathi": {script: "mar_Deva", speech: "mar"},
}

func lookupLanguage(name string) (language, error) {
	l, ok := languages[name]
	if !ok {
		return language{}, fmt.Errorf("unsupported language %q", name)
	}
	return l, nil
}

// Simplifier rewrites text with a text-to-text generation model.
type Simplifier struct {
	client *Client
	model  string
}

// NewSimplifier returns a Simplifier backed by model.
func NewSimplifier(c *Client, model string) *Simplifier {
	return &Simplifier{client: c, model: model}
}

type generationParams struct {
	MaxLength   int     `json:"max_length"`
	Temperature float64 `json:"temperature"`
	DoSample    bool    `json:"do_sample"`
}

type generationRequest struct {
	Inputs     string           `json:"inputs"`
	Parameters generationParams `json:"parameters"`
}

// Simplify implements pipeline.Simplifier.
func (s *Simplifier) Simplify(ctx context.Context, text string, grade int, subject string) (string, error) {
	prompt := fmt.Sprintf("Simplify the following %s text for grade %d students: %s", subject, grade, text)
	body, err := s.client.Post(ctx, s.model, generationRequest{
		Inputs:     prompt,
		Parameters: generationParams{MaxLength: 512, Temperature: 0.7, DoSample: true},
	})
	if err != nil {
		return "", err
	}
	return firstField(body, "generated_text")
}

// Translator renders English text in an Indian language.
type Translator struct {
	client *Client
	model  string
}

// NewTranslator returns a Translator backed by model.
func NewTranslator(c *Client, model string) *Translator {
	return &Translator{client: c, model: model}
}

type translationRequest struct {
	Inputs     string            `json:"inputs"`
	Parameters map[string]string `json:"parameters"`
}

// Translate implements pipeline.Translator.
func (t *Translator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	lang, err := lookupLanguage(targetLanguage)
	if err != nil {
		return "", err
	}
	body, err := t.client.Post(ctx, t.model, translationRequest{
		Inputs:     text,
		Parameters: map[string]string{"src_lang": sourceLanguage, "tgt_lang": lang.script},
	})
	if err != nil {
		return "", err
	}
	return firstField(body, "translation_text")
}

// Validator scores translated content with a sentence similarity model.
type Validator struct {
	client *Client
	model  string
}

// NewValidator returns a Validator backed by model.
func NewValidator(c *Client, model string) *Validator {
	return &Validator{client: c, model: model}
}

type similarityInputs struct {
	Source    string   `json:"source_sentence"`
	Sentences []string `json:"sentences"`
}

type similarityRequest struct {
	Inputs similarityInputs `json:"inputs"`
}

// Validate implements pipeline.Validator. The score is the similarity
// between the source and translated text, clamped to [0, 1].
func (v *Validator) Validate(ctx context.Context, original, translated string, _ int, _ string) (float64, error) {
	body, err := v.client.Post(ctx, v.model, similarityRequest{
		Inputs: similarityInputs{Source: original, Sentences: []string{translated}},
	})
	if err != nil {
		return 0, err
	}

	var scores []float64
	if err := json.Unmarshal(body, &scores); err != nil {
		return 0, fmt.Errorf("decode similarity response: %w", err)
	}
	if len(scores) == 0 {
		return 0, errors.New("similarity response has no scores")
	}
	return min(max(scores[0], 0), 1), nil
}

// Speech synthesizes audio and writes it under a directory. When an ASR
// model is set, the audio is transcribed back and scored against the text.
type Speech struct {
	client *Client
	prefix string
	asr    string
	dir    string
}

// NewSpeech returns a Speech adapter. The model for a language is prefix
// joined with the language's three-letter code. An empty asr skips scoring.
func NewSpeech(c *Client, prefix, asr, dir string) *Speech {
	return &Speech{client: c, prefix: prefix, asr: asr, dir: dir}
}

type transcription struct {
	Text string `json:"text"`
}

// Synthesize implements pipeline.SpeechSynthesizer. Audio.Ref is the path
// of the written audio file.
func (s *Speech) Synthesize(ctx context.Context, text, lang string) (pipeline.Audio, error) {
	l, err := lookupLanguage(lang)
	if err != nil {
		return pipeline.Audio{}, err
	}

	audio, contentType, err := s.client.PostRaw(ctx, s.prefix+l.speech, map[string]string{"inputs": text})
	if err != nil {
		return pipeline.Audio{}, err
	}
	if len(audio) == 0 {
		return pipeline.Audio{}, errors.New("speech model returned no audio")
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return pipeline.Audio{}, fmt.Errorf("create audio directory: %w", err)
	}
	path := filepath.Join(s.dir, uuid.NewString()+audioExtension(contentType))
	if err := os.WriteFile(path, audio, 0o640); err != nil {
		return pipeline.Audio{}, fmt.Errorf("write audio: %w", err)
	}

	out := pipeline.Audio{Ref: path}
	if s.asr == "" {
		return out, nil
	}
	if contentType == "" {
		contentType = "audio/wav"
	}
	body, err := s.client.PostBinary(ctx, s.asr, contentType, audio)
	if err != nil {
		s.client.logger.Warn(ctx, "audio transcription failed, accuracy not scored",
			zap.String("model", s.asr), zap.Error(err))
		return out, nil
	}
	var tr transcription
	if err := json.Unmarshal(body, &tr); err != nil {
		s.client.logger.Warn(ctx, "undecodable transcription, accuracy not scored",
			zap.String("model", s.asr), zap.Error(err))
		return out, nil
	}
	out.Accuracy = wordOverlap(tr.Text, text)
	out.Scored = true
	return out, nil
}

// wordOverlap is the Jaccard similarity of the lower-cased word sets of a
// and b. Two empty texts match fully.
func wordOverlap(a, b string) float64 {
	words := func(s string) map[string]struct{} {
		set := make(map[string]struct{})
		for _, w := range strings.Fields(strings.ToLower(s)) {
			set[strings.Trim(w, ".,;:!?\"'()।")] = struct{}{}
		}
		delete(set, "")
		return set
	}
	wa, wb := words(a), words(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	var shared int
	for w := range wa {
		if _, ok := wb[w]; ok {
			shared++
		}
	}
	union := len(wa) + len(wb) - shared
	return float64(shared) / float64(union)
}

func audioExtension(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".wav"
	}
	switch mt {
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".wav"
	}
}

// firstField extracts key from a response that is either an object or a
// list of objects.
func firstField(body []byte, key string) (string, error) {
	var list []map[string]any
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return "", nil
		}
		return stringField(list[0], key), nil
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	return stringField(obj, key), nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// NewModels wires every stage adapter from configuration.
func NewModels(c *Client, models config.ModelsConfig, audioDir string) pipeline.Models {
	return pipeline.Models{
		Simplifier: NewSimplifier(c, models.Simplify),
		Translator: NewTranslator(c, models.Translate),
		Validator:  NewValidator(c, models.Validate),
		Speech:     NewSpeech(c, models.SpeechPrefix, models.ASR, audioDir),
	}
}

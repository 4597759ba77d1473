package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-eval-api/pkg/ai"
)

// ErrJudgmentFormat indicates the model answered with something that does not
// match the expected JSON shape.
var ErrJudgmentFormat = errors.New("judgment format mismatch")

const (
	judgmentSchemaURL  = "judgment.json"
	dimensionSchemaURL = "dimension.json"

	judgmentSchemaDoc = `{
  "type": "object",
  "required": ["score", "feedback"],
  "properties": {
    "score": {"type": "number", "minimum": 0, "maximum": 10},
    "feedback": {
      "type": "array",
      "minItems": 3,
      "maxItems": 3,
      "items": {"type": "string", "minLength": 1}
    }
  }
}`

	dimensionSchemaDoc = `{
  "type": "object",
  "required": ["score", "justification"],
  "properties": {
    "score": {"type": "number", "minimum": 0, "maximum": 10},
    "justification": {"type": "string", "minLength": 1}
  }
}`

	fallbackScore       = 5.0
	maxFeedbackLength   = 240
	maxParagraphLength  = 1200
	defaultJudgeTimeout = 45 * time.Second
	defaultTemperature  = 0.2
	judgmentAttempts    = 2
)

// Feedback lines used when the model cannot produce a usable judgment.
const (
	feedbackUnparsed    = "Unable to parse evaluation"
	feedbackUnavailable = "Automated judgment unavailable"
	feedbackReview      = "Please review manually"
	feedbackDefault     = "Default score assigned"
)

// JudgmentRequest is one rubric-scored judgment.
type JudgmentRequest struct {
	Kind   string
	System string
	Prompt string
}

// Judgment is a bounded score with exactly three feedback lines.
type Judgment struct {
	Score    float64  `json:"score"`
	Feedback []string `json:"feedback"`
	Fallback bool     `json:"fallback"`
}

// DimensionRequest scores one named dimension of an answer.
type DimensionRequest struct {
	Dimension string
	System    string
	Prompt    string
}

// DimensionScore is a bounded score with a one-line justification.
type DimensionScore struct {
	Dimension     string  `json:"dimension"`
	Score         float64 `json:"score"`
	Justification string  `json:"justification"`
	Fallback      bool    `json:"fallback"`
}

// JudgmentEngine turns prompts into validated, bounded scores. It never fails:
// unusable model output degrades to a neutral fallback.
type JudgmentEngine interface {
	Judge(ctx context.Context, req JudgmentRequest) Judgment
	ScoreDimension(ctx context.Context, req DimensionRequest) DimensionScore
	ComposeFeedback(ctx context.Context, system, prompt, fallback string) string
}

// JudgmentConfig tunes the model calls.
type JudgmentConfig struct {
	Temperature float32
	Timeout     time.Duration
}

type judgmentEngine struct {
	completer   ai.Completer
	judgment    *jsonschema.Schema
	dimension   *jsonschema.Schema
	sanitizer   *bluemonday.Policy
	temperature float32
	timeout     time.Duration
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewJudgmentEngine compiles the response schemas. A nil completer is allowed
// and makes every judgment fall back.
func NewJudgmentEngine(completer ai.Completer, cfg JudgmentConfig, logger zerolog.Logger) (JudgmentEngine, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(judgmentSchemaURL, strings.NewReader(judgmentSchemaDoc)); err != nil {
		return nil, fmt.Errorf("add judgment schema: %w", err)
	}
	if err := compiler.AddResource(dimensionSchemaURL, strings.NewReader(dimensionSchemaDoc)); err != nil {
		return nil, fmt.Errorf("add dimension schema: %w", err)
	}

	judgment, err := compiler.Compile(judgmentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile judgment schema: %w", err)
	}
	dimension, err := compiler.Compile(dimensionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile dimension schema: %w", err)
	}

	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultJudgeTimeout
	}

	return &judgmentEngine{
		completer:   completer,
		judgment:    judgment,
		dimension:   dimension,
		sanitizer:   bluemonday.StrictPolicy(),
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      logger.With().Str("component", "judgment_engine").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-eval-api/internal/service/judgment"),
	}, nil
}

func (e *judgmentEngine) Judge(ctx context.Context, req JudgmentRequest) Judgment {
	ctx, span := e.tracer.Start(ctx, "judgment.judge", trace.WithAttributes(attribute.String("judgment.kind", req.Kind)))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= judgmentAttempts; attempt++ {
		content, err := e.complete(ctx, req.System, req.Prompt, true)
		if err == nil {
			var judgment Judgment
			if judgment, err = e.decodeJudgment(content); err == nil {
				return judgment
			}
		}

		lastErr = err
		e.logger.Warn().Err(err).Str("kind", req.Kind).Int("attempt", attempt).Msg("judgment attempt failed")
		if ctx.Err() != nil {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "judgment fallback")
	return fallbackJudgment(lastErr)
}

func (e *judgmentEngine) ScoreDimension(ctx context.Context, req DimensionRequest) DimensionScore {
	ctx, span := e.tracer.Start(ctx, "judgment.dimension", trace.WithAttributes(attribute.String("judgment.dimension", req.Dimension)))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= judgmentAttempts; attempt++ {
		content, err := e.complete(ctx, req.System, req.Prompt, true)
		if err == nil {
			var score DimensionScore
			if score, err = e.decodeDimension(content); err == nil {
				score.Dimension = req.Dimension
				return score
			}
		}

		lastErr = err
		e.logger.Warn().Err(err).Str("dimension", req.Dimension).Int("attempt", attempt).Msg("dimension attempt failed")
		if ctx.Err() != nil {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "dimension fallback")
	return DimensionScore{
		Dimension:     req.Dimension,
		Score:         fallbackScore,
		Justification: fmt.Sprintf("Unable to score %s, default score assigned", req.Dimension),
		Fallback:      true,
	}
}

func (e *judgmentEngine) ComposeFeedback(ctx context.Context, system, prompt, fallback string) string {
	ctx, span := e.tracer.Start(ctx, "judgment.compose")
	defer span.End()

	content, err := e.complete(ctx, system, prompt, false)
	if err == nil {
		if text := e.clean(content, maxParagraphLength); text != "" {
			return text
		}
		err = ai.ErrEmptyCompletion
	}

	span.RecordError(err)
	e.logger.Warn().Err(err).Msg("feedback composition fell back")
	return e.clean(fallback, maxParagraphLength)
}

func (e *judgmentEngine) complete(ctx context.Context, system, prompt string, asJSON bool) (string, error) {
	if e.completer == nil {
		return "", errors.New("no completer configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	completion, err := e.completer.Complete(callCtx, ai.CompletionRequest{
		System:      system,
		Prompt:      prompt,
		Temperature: e.temperature,
		JSON:        asJSON,
	})
	if err != nil {
		return "", err
	}
	return completion.Content, nil
}

func (e *judgmentEngine) decodeJudgment(content string) (Judgment, error) {
	raw, err := e.validate(e.judgment, content)
	if err != nil {
		return Judgment{}, err
	}

	var payload struct {
		Score    float64  `json:"score"`
		Feedback []string `json:"feedback"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Judgment{}, fmt.Errorf("%w: %v", ErrJudgmentFormat, err)
	}

	feedback := make([]string, 0, len(payload.Feedback))
	for _, line := range payload.Feedback {
		if text := e.clean(line, maxFeedbackLength); text != "" {
			feedback = append(feedback, text)
		}
	}
	if len(feedback) != 3 {
		return Judgment{}, fmt.Errorf("%w: feedback empty after sanitizing", ErrJudgmentFormat)
	}

	return Judgment{Score: clampScore(payload.Score), Feedback: feedback}, nil
}

func (e *judgmentEngine) decodeDimension(content string) (DimensionScore, error) {
	raw, err := e.validate(e.dimension, content)
	if err != nil {
		return DimensionScore{}, err
	}

	var payload struct {
		Score         float64 `json:"score"`
		Justification string  `json:"justification"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return DimensionScore{}, fmt.Errorf("%w: %v", ErrJudgmentFormat, err)
	}

	justification := e.clean(payload.Justification, maxFeedbackLength)
	if justification == "" {
		return DimensionScore{}, fmt.Errorf("%w: justification empty after sanitizing", ErrJudgmentFormat)
	}
	return DimensionScore{Score: clampScore(payload.Score), Justification: justification}, nil
}

func (e *judgmentEngine) validate(schema *jsonschema.Schema, content string) ([]byte, error) {
	raw := []byte(ai.ExtractJSON(content))

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJudgmentFormat, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJudgmentFormat, err)
	}
	return raw, nil
}

func (e *judgmentEngine) clean(text string, limit int) string {
	return truncateRunes(strings.TrimSpace(e.sanitizer.Sanitize(text)), limit)
}

func fallbackJudgment(err error) Judgment {
	first := feedbackUnparsed
	if err != nil && !errors.Is(err, ErrJudgmentFormat) {
		first = feedbackUnavailable
	}
	return Judgment{
		Score:    fallbackScore,
		Feedback: []string{first, feedbackReview, feedbackDefault},
		Fallback: true,
	}
}

func clampScore(score float64) float64 {
	switch {
	case math.IsNaN(score) || score < 0:
		return 0
	case score > 10:
		return 10
	default:
		return score
	}
}

func truncateRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit]))
}

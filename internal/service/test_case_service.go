package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/observability"
	"github.com/noah-isme/gema-eval-api/internal/repository"
	"github.com/noah-isme/gema-eval-api/pkg/ai"
)

const (
	maxGeneratedCases      = 5
	testCaseSchemaURL      = "test_cases.json"
	testCaseTemperature    = 0.2
	sqlValidExpectation    = "VALID"
	defaultGenerateTimeout = 45 * time.Second
)

const testCaseSchemaDoc = `{
  "type": "object",
  "required": ["test_cases"],
  "properties": {
    "test_cases": {
      "type": "array",
      "minItems": 3,
      "items": {
        "type": "object",
        "required": ["input", "expected_output"],
        "properties": {
          "input": {"type": "string"},
          "expected_output": {"type": "string"},
          "description": {"type": "string"},
          "difficulty": {"enum": ["easy", "medium", "hard"]}
        }
      }
    }
  }
}`

// TestCaseService generates and stores the test cases a question is executed against.
type TestCaseService interface {
	Generate(ctx context.Context, questionID string) ([]models.TestCase, error)
	List(ctx context.Context, questionID string) ([]models.TestCase, error)
}

type testCaseService struct {
	questions repository.QuestionRepository
	completer ai.Completer
	schema    *jsonschema.Schema
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewTestCaseService constructs the generator. A nil completer always yields the fallback case.
func NewTestCaseService(questions repository.QuestionRepository, completer ai.Completer, timeout time.Duration, logger zerolog.Logger) (TestCaseService, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(testCaseSchemaURL, strings.NewReader(testCaseSchemaDoc)); err != nil {
		return nil, fmt.Errorf("add test case schema: %w", err)
	}
	schema, err := compiler.Compile(testCaseSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile test case schema: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}

	return &testCaseService{
		questions: questions,
		completer: completer,
		schema:    schema,
		timeout:   timeout,
		logger:    logger.With().Str("component", "test_case_service").Logger(),
	}, nil
}

// Generate replaces the stored cases of a question with a fresh set.
func (s *testCaseService) Generate(ctx context.Context, questionID string) ([]models.TestCase, error) {
	spec, err := s.questions.GetByID(ctx, questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}

	source := "llm"
	cases, err := s.generate(ctx, spec)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn().Err(err).Str("question_id", spec.ID).Msg("test case generation failed, using fallback case")
		cases = fallbackTestCases(spec.Type)
		source = "fallback"
	}
	observability.TestCaseGenerations().WithLabelValues(string(spec.Type), source).Inc()

	if err := s.questions.ReplaceTestCases(ctx, spec.ID, cases); err != nil {
		return nil, fmt.Errorf("store test cases: %w", err)
	}

	stored, err := s.questions.ListTestCases(ctx, spec.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("question_id", spec.ID).Str("source", source).Int("count", len(stored)).Msg("test cases stored")
	return stored, nil
}

func (s *testCaseService) List(ctx context.Context, questionID string) ([]models.TestCase, error) {
	if _, err := s.questions.GetByID(ctx, questionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	return s.questions.ListTestCases(ctx, questionID)
}

func (s *testCaseService) generate(ctx context.Context, spec models.QuestionSpec) ([]models.TestCase, error) {
	if s.completer == nil {
		return nil, errors.New("no completer configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	completion, err := s.completer.Complete(callCtx, ai.CompletionRequest{
		System:      testCaseSystemPrompt,
		Prompt:      testCasePrompt(spec),
		Temperature: testCaseTemperature,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	raw := []byte(ai.ExtractJSON(completion.Content))
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJudgmentFormat, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJudgmentFormat, err)
	}

	var payload struct {
		TestCases []struct {
			Input          string `json:"input"`
			ExpectedOutput string `json:"expected_output"`
			Description    string `json:"description"`
			Difficulty     string `json:"difficulty"`
		} `json:"test_cases"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJudgmentFormat, err)
	}

	cases := make([]models.TestCase, 0, maxGeneratedCases)
	for _, tc := range payload.TestCases {
		if len(cases) == maxGeneratedCases {
			break
		}
		difficulty := tc.Difficulty
		if difficulty == "" {
			difficulty = "medium"
		}
		cases = append(cases, models.TestCase{
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			Description:    strings.TrimSpace(tc.Description),
			Difficulty:     difficulty,
		})
	}
	return cases, nil
}

func fallbackTestCases(questionType models.QuestionType) []models.TestCase {
	if questionType == models.QuestionTypeDBSchema {
		return []models.TestCase{{
			Input:          "SELECT 1;",
			ExpectedOutput: sqlValidExpectation,
			Description:    "Schema executes without errors",
			Difficulty:     "easy",
		}}
	}
	return []models.TestCase{{
		Description: "Program runs without input",
		Difficulty:  "easy",
	}}
}

func testCasePrompt(spec models.QuestionSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nLanguage: %s\n", spec.Title, spec.Language)
	if spec.Prompt != "" {
		fmt.Fprintf(&b, "Task:\n%s\n", spec.Prompt)
	}

	switch spec.Type {
	case models.QuestionTypeDebug:
		fmt.Fprintf(&b, "\nBuggy code:\n%s\n", spec.BuggyCode)
		if spec.WorkingCode != "" {
			fmt.Fprintf(&b, "\nFixed code:\n%s\n", spec.WorkingCode)
		}
		b.WriteString("\nWrite 3 to 5 stdin/stdout test cases that fail on the buggy code and pass on the fixed code.")
	case models.QuestionTypeExplain:
		fmt.Fprintf(&b, "\nCode:\n%s\n", spec.WorkingCode)
		b.WriteString("\nWrite 3 to 5 stdin/stdout test cases that verify the behaviour of the code.")
	case models.QuestionTypeDBSchema:
		if len(spec.Requirements) > 0 {
			fmt.Fprintf(&b, "\nRequirements:\n- %s\n", strings.Join(spec.Requirements, "\n- "))
		}
		fmt.Fprintf(&b, "\nWrite 3 to 5 data and query scenarios. input is SQL run after the schema, expected_output is %q when it must succeed.", sqlValidExpectation)
	default:
		b.WriteString("\nWrite 3 to 5 stdin/stdout test cases for this task.")
	}

	b.WriteString("\nExpected outputs must be exact program output.")
	return b.String()
}

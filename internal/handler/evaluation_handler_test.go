package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/config"
	"github.com/noah-isme/gema-eval-api/internal/handler"
	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/repository"
	"github.com/noah-isme/gema-eval-api/internal/router"
	"github.com/noah-isme/gema-eval-api/internal/service"
	"github.com/noah-isme/gema-eval-api/pkg/ai"
	"github.com/noah-isme/gema-eval-api/pkg/sandbox"
)

// reportContract is the shape the presentation layer reads.
const reportContract = `{
  "type": "object",
  "required": ["candidate_name", "interview_date", "overall_score", "overall_feedback", "questions", "evaluation_timestamp"],
  "properties": {
    "candidate_name": {"type": "string"},
    "interview_date": {"type": "string"},
    "overall_score": {"type": "number", "minimum": 0, "maximum": 10},
    "overall_feedback": {"type": "string", "minLength": 1},
    "evaluation_timestamp": {"type": "string", "format": "date-time"},
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["question_title", "question_type", "score", "feedback", "details"],
        "properties": {
          "question_title": {"type": "string"},
          "question_type": {"type": "string"},
          "score": {"type": "number", "minimum": 0, "maximum": 10},
          "feedback": {"type": "array", "minItems": 3, "maxItems": 3, "items": {"type": "string", "minLength": 1}},
          "details": {"type": "object"}
        }
      }
    }
  }
}`

type echoTransport struct{}

func (echoTransport) Execute(_ context.Context, req sandbox.TransportRequest) (sandbox.TransportResponse, error) {
	code := 0
	return sandbox.TransportResponse{Run: sandbox.StageResult{Stdout: req.Stdin + "\n", Code: &code}}, nil
}

func (echoTransport) Runtimes(context.Context) ([]sandbox.Runtime, error) {
	return nil, nil
}

// fixedCompleter satisfies both the judgment and the dimension schema.
type fixedCompleter struct{}

func (fixedCompleter) Complete(_ context.Context, req ai.CompletionRequest) (ai.Completion, error) {
	if !req.JSON {
		return ai.Completion{Content: "Clear and well structured answer."}, nil
	}
	return ai.Completion{Content: `{"score": 8, "feedback": ["Correct fix", "Readable code", "Add edge cases"], "justification": "Precise terms"}`}, nil
}

func setupEvaluationApp(t *testing.T) *fiber.App {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.QuestionSpec{}, &models.TestCase{}, &models.EvaluationReport{}))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	questionRepo := repository.NewQuestionRepository(db)
	reportService := service.NewReportService(repository.NewReportRepository(db), nil, time.Minute, logger)

	runner := sandbox.NewClient(echoTransport{}, sandbox.NopGate{}, sandbox.ClientConfig{Backoff: time.Millisecond, Logger: logger})
	engine, err := service.NewJudgmentEngine(fixedCompleter{}, service.JudgmentConfig{}, logger)
	require.NoError(t, err)
	testCases, err := service.NewTestCaseService(questionRepo, nil, 0, logger)
	require.NoError(t, err)

	evaluations := service.NewEvaluationService(questionRepo, reportService, []service.QuestionEvaluator{
		service.NewDebugEvaluator(runner, engine, logger),
		service.NewExplainEvaluator(engine),
		service.NewSchemaEvaluator(runner, engine, logger),
		service.NewQCMEvaluator(),
		service.NewOpenEvaluator(engine),
	}, nil, validate, logger, service.EvaluationConfig{})

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret", EvaluationRateLimit: 100}, router.Dependencies{
		QuestionHandler:   handler.NewQuestionHandler(service.NewQuestionService(questionRepo, validate, logger), testCases, validate, logger),
		EvaluationHandler: handler.NewEvaluationHandler(evaluations, validate, logger),
		InterviewHandler: handler.NewInterviewHandler(
			service.NewTextInterviewService(engine, reportService, service.DefaultTextWeights(), validate, logger),
			service.NewOralInterviewService(engine, reportService, service.DefaultOralWeights(), validate, logger),
			validate, logger,
		),
		JWTMiddleware: func(c *fiber.Ctx) error {
			if user := c.Get("X-Test-User"); user != "" {
				c.Locals("user_id", user)
			}
			c.Locals("user_role", c.Get("X-Test-Role"))
			return c.Next()
		},
	})

	return app
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Details map[string]string `json:"details"`
}

func doJSON(t *testing.T, app *fiber.App, method, path, role string, body interface{}) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", "user-1")
	req.Header.Set("X-Test-Role", role)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func registerDebugQuestion(t *testing.T, app *fiber.App) {
	t.Helper()
	resp, env := doJSON(t, app, http.MethodPut, "/api/v2/questions", "admin", map[string]interface{}{
		"id":         "q-debug",
		"type":       "debug",
		"title":      "Fix the accumulator",
		"language":   "python",
		"buggy_code": "print(total)",
		"test_cases": []map[string]string{
			{"input": "3", "expected_output": "3"},
			{"input": "4", "expected_output": "4"},
		},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, env.Message)
}

func compileContract(t *testing.T) *jsonschema.Schema {
	t.Helper()
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	require.NoError(t, compiler.AddResource("report.json", strings.NewReader(reportContract)))
	schema, err := compiler.Compile("report.json")
	require.NoError(t, err)
	return schema
}

func TestEvaluationHandlerEvaluateAndFetch(t *testing.T) {
	app := setupEvaluationApp(t)
	registerDebugQuestion(t, app)

	resp, env := doJSON(t, app, http.MethodPost, "/api/v2/coding-interview/evaluations", "recruiter", map[string]interface{}{
		"candidate_name": "Jane Doe",
		"interview_date": "2024-05-01",
		"submissions": []map[string]string{
			{"question_id": "q-debug", "response_text": "FIXED CODE:\ntotal = int(input())\nprint(total)\nEXPLANATION: total was undefined"},
		},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, env.Message)

	var doc interface{}
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	require.NoError(t, compileContract(t).Validate(doc))

	var report struct {
		Key          string  `json:"report_key"`
		OverallScore float64 `json:"overall_score"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &report))
	require.Equal(t, "code-evaluation-jane-doe-2024-05-01", report.Key)
	require.Equal(t, 8.0, report.OverallScore)

	resp, env = doJSON(t, app, http.MethodGet, "/api/v2/coding-interview/evaluations/"+report.Key, "recruiter", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Contains(t, string(env.Data), `"candidate_name":"Jane Doe"`)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v2/coding-interview/evaluations/code-evaluation-nobody", "recruiter", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestEvaluationHandlerValidation(t *testing.T) {
	app := setupEvaluationApp(t)

	resp, env := doJSON(t, app, http.MethodPost, "/api/v2/coding-interview/evaluations", "recruiter", map[string]interface{}{
		"candidate_name": "Jane Doe",
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.False(t, env.Success)
	require.Equal(t, "required", env.Details["EvaluateInterviewRequest.InterviewDate"])
}

func TestEvaluationHandlerBatch(t *testing.T) {
	app := setupEvaluationApp(t)
	registerDebugQuestion(t, app)

	interview := func(name string) map[string]interface{} {
		return map[string]interface{}{
			"candidate_name": name,
			"interview_date": "2024-05-01",
			"submissions":    []map[string]string{{"question_id": "q-debug", "response_text": "print(int(input()))"}},
		}
	}

	resp, env := doJSON(t, app, http.MethodPost, "/api/v2/coding-interview/evaluations/batch", "admin", map[string]interface{}{
		"interviews": []interface{}{interview("Alice"), interview("Bob")},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, env.Message)

	var batch struct {
		Reports []struct {
			CandidateName string `json:"candidate_name"`
		} `json:"reports"`
		Failures []interface{} `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &batch))
	require.Len(t, batch.Reports, 2)
	require.Equal(t, "Alice", batch.Reports[0].CandidateName)
	require.Equal(t, "Bob", batch.Reports[1].CandidateName)
	require.Empty(t, batch.Failures)
}

func TestRoutesRequireRecruiterRole(t *testing.T) {
	app := setupEvaluationApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/api/v2/coding-interview/evaluations/any", "candidate", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPut, "/api/v2/questions", "recruiter", map[string]string{"id": "q-1", "type": "open"})
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestQuestionHandlerTestCases(t *testing.T) {
	app := setupEvaluationApp(t)
	registerDebugQuestion(t, app)

	resp, env := doJSON(t, app, http.MethodGet, "/api/v2/questions/q-debug/test-cases", "recruiter", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var cases []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &cases))
	require.Len(t, cases, 2)

	// no completer configured, so regeneration stores the fallback case
	resp, env = doJSON(t, app, http.MethodPost, "/api/v2/questions/q-debug/test-cases", "admin", nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &cases))
	require.Len(t, cases, 1)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v2/questions/missing/test-cases", "admin", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v2/questions/missing", "admin", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestInterviewHandlers(t *testing.T) {
	app := setupEvaluationApp(t)

	resp, env := doJSON(t, app, http.MethodPost, "/api/v2/text-interview/evaluations", "recruiter", map[string]interface{}{
		"candidate_name": "Jane Doe",
		"interview_date": "2024-05-01",
		"questions": []map[string]interface{}{
			{"question_id": "1", "type": "qcm", "is_correct": true},
			{"question_id": "2", "type": "open", "question_text": "What is an index?", "response": "A lookup structure."},
		},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, env.Message)
	var text struct {
		Key          string  `json:"report_key"`
		OverallScore float64 `json:"overall_score"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &text))
	require.Equal(t, "evaluation_report-jane-doe-2024-05-01", text.Key)
	// 10*0.3 + 8*0.4 + 8*0.3
	require.Equal(t, 8.6, text.OverallScore)

	resp, env = doJSON(t, app, http.MethodPost, "/api/v2/oral-interview/evaluations", "recruiter", map[string]interface{}{
		"candidate_name": "Jane Doe",
		"interview_date": "2024-05-01",
		"conversation": []map[string]interface{}{
			{"turn": 1, "speaker": "interviewer", "text": "Explain goroutines."},
			{"turn": 2, "speaker": "candidate", "text": "Lightweight threads."},
		},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, env.Message)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v2/oral-interview/evaluations", "recruiter", map[string]interface{}{
		"candidate_name": "Jane Doe",
		"interview_date": "2024-05-01",
		"conversation":   []map[string]interface{}{{"turn": 1, "speaker": "narrator", "text": "hi"}},
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHealthCheckReportsDependencies(t *testing.T) {
	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", AppEnv: "test"}, router.Dependencies{
		DependencyChecks: map[string]handler.DependencyCheck{
			"database": func(context.Context) error { return nil },
		},
	})

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "Test", resp.Header.Get("X-Application"))

	var health handler.HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "ok", health.Dependencies["database"])
}

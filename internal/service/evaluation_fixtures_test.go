package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/repository"
	"github.com/noah-isme/gema-eval-api/pkg/ai"
	"github.com/noah-isme/gema-eval-api/pkg/sandbox"
)

type sandboxStub struct {
	mu      sync.Mutex
	calls   []sandbox.TransportRequest
	handler func(req sandbox.TransportRequest) (sandbox.TransportResponse, error)
}

func (s *sandboxStub) Execute(ctx context.Context, req sandbox.TransportRequest) (sandbox.TransportResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		return stdoutResponse(req.Stdin), nil
	}
	return handler(req)
}

func (s *sandboxStub) Runtimes(context.Context) ([]sandbox.Runtime, error) {
	return nil, nil
}

func (s *sandboxStub) executeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func exitCode(v int) *int {
	return &v
}

func stdoutResponse(stdout string) sandbox.TransportResponse {
	return sandbox.TransportResponse{Run: sandbox.StageResult{Stdout: stdout, Code: exitCode(0)}}
}

func stderrResponse(stderr string, code int) sandbox.TransportResponse {
	return sandbox.TransportResponse{Run: sandbox.StageResult{Stderr: stderr, Code: exitCode(code)}}
}

func newRunner(transport sandbox.Transport) *sandbox.Client {
	return sandbox.NewClient(transport, sandbox.NopGate{}, sandbox.ClientConfig{
		Backoff: time.Millisecond,
		Logger:  zerolog.Nop(),
	})
}

// stubEngine returns canned judgments and records how often it was consulted.
type stubEngine struct {
	mu             sync.Mutex
	judgment       Judgment
	dimensions     map[string]float64
	fallbackDims   bool
	judgeCalls     int
	dimensionCalls int
	composeCalls   int
	prompts        []string
}

func newStubEngine(score float64, feedback ...string) *stubEngine {
	if len(feedback) == 0 {
		feedback = []string{"first", "second", "third"}
	}
	return &stubEngine{judgment: Judgment{Score: score, Feedback: feedback}, dimensions: map[string]float64{}}
}

func (s *stubEngine) Judge(_ context.Context, req JudgmentRequest) Judgment {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.judgeCalls++
	s.prompts = append(s.prompts, req.Prompt)
	j := s.judgment
	j.Feedback = append([]string(nil), s.judgment.Feedback...)
	return j
}

func (s *stubEngine) ScoreDimension(_ context.Context, req DimensionRequest) DimensionScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimensionCalls++
	score, ok := s.dimensions[req.Dimension]
	if !ok {
		score = 5
	}
	return DimensionScore{Dimension: req.Dimension, Score: score, Justification: req.Dimension + " noted", Fallback: s.fallbackDims}
}

func (s *stubEngine) ComposeFeedback(_ context.Context, _, _, fallback string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composeCalls++
	return fallback
}

func (s *stubEngine) counts() (judge, dimension, compose int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.judgeCalls, s.dimensionCalls, s.composeCalls
}

// scriptedCompleter answers completions from a function of the call number.
type scriptedCompleter struct {
	mu      sync.Mutex
	calls   []ai.CompletionRequest
	respond func(call int, req ai.CompletionRequest) (string, error)
}

func (c *scriptedCompleter) Complete(_ context.Context, req ai.CompletionRequest) (ai.Completion, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	call := len(c.calls)
	c.mu.Unlock()

	content, err := c.respond(call, req)
	if err != nil {
		return ai.Completion{}, err
	}
	return ai.Completion{Content: content, Model: "stub"}, nil
}

func (c *scriptedCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.QuestionSpec{}, &models.TestCase{}, &models.EvaluationReport{}))
	return db
}

func seedQuestion(t *testing.T, repo repository.QuestionRepository, spec models.QuestionSpec) {
	t.Helper()
	cases := spec.TestCases
	spec.TestCases = nil
	require.NoError(t, repo.Upsert(context.Background(), &spec))
	if len(cases) > 0 {
		require.NoError(t, repo.ReplaceTestCases(context.Background(), spec.ID, cases))
	}
}

func debugSpec() models.QuestionSpec {
	return models.QuestionSpec{
		ID:        "q-debug",
		Type:      models.QuestionTypeDebug,
		Title:     "Fix the accumulator",
		Language:  "python",
		BuggyCode: "print(total)",
		TestCases: []models.TestCase{
			{Input: "3", ExpectedOutput: "3", Description: "echo three"},
			{Input: "4", ExpectedOutput: "4", Description: "echo four"},
		},
	}
}

const fixedDebugAnswer = "FIXED CODE:\ntotal = int(input())\nprint(total)\nEXPLANATION: total was never defined"

// echoUnlessBuggy fails the known buggy program with a name error and echoes stdin otherwise.
func echoUnlessBuggy(req sandbox.TransportRequest) (sandbox.TransportResponse, error) {
	if req.Files[0].Content == "print(total)" {
		return stderrResponse("NameError: name 'total' is not defined", 1), nil
	}
	return stdoutResponse(req.Stdin + "\n"), nil
}

func requireWellFormed(t *testing.T, evaluation dto.QuestionEvaluation) {
	t.Helper()
	require.GreaterOrEqual(t, evaluation.Score, 0.0)
	require.LessOrEqual(t, evaluation.Score, 10.0)
	require.Len(t, evaluation.Feedback, 3)
	for _, line := range evaluation.Feedback {
		require.NotEmpty(t, strings.TrimSpace(line))
	}
}

func newValidator() *validator.Validate {
	return validator.New()
}

package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/repository"
	"github.com/noah-isme/gema-eval-api/pkg/ai"
)

func generatedCases(n int) string {
	items := make([]string, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, fmt.Sprintf(`{"input": "%d", "expected_output": "%d", "description": " case %d "}`, i, i, i))
	}
	return `{"test_cases": [` + strings.Join(items, ",") + `]}`
}

func newTestCaseHarness(t *testing.T, completer ai.Completer) (TestCaseService, repository.QuestionRepository) {
	t.Helper()
	questions := repository.NewQuestionRepository(setupServiceDB(t))
	svc, err := NewTestCaseService(questions, completer, 0, zerolog.Nop())
	require.NoError(t, err)
	return svc, questions
}

func TestGenerateCapsAtFiveCases(t *testing.T) {
	completer := &scriptedCompleter{respond: func(int, ai.CompletionRequest) (string, error) {
		return generatedCases(7), nil
	}}
	svc, questions := newTestCaseHarness(t, completer)
	seedQuestion(t, questions, debugSpec())

	cases, err := svc.Generate(context.Background(), "q-debug")
	require.NoError(t, err)
	require.Len(t, cases, 5)
	for i, tc := range cases {
		require.Equal(t, i, tc.Position)
		require.Equal(t, fmt.Sprint(i), tc.Input)
		require.Equal(t, "medium", tc.Difficulty)
		require.Equal(t, fmt.Sprintf("case %d", i), tc.Description)
	}
	require.Contains(t, completer.calls[0].Prompt, "print(total)")
}

func TestGenerateReplacesPreviousCases(t *testing.T) {
	completer := &scriptedCompleter{respond: func(int, ai.CompletionRequest) (string, error) {
		return generatedCases(3), nil
	}}
	svc, questions := newTestCaseHarness(t, completer)
	seedQuestion(t, questions, debugSpec())
	ctx := context.Background()

	_, err := svc.Generate(ctx, "q-debug")
	require.NoError(t, err)
	_, err = svc.Generate(ctx, "q-debug")
	require.NoError(t, err)

	stored, err := svc.List(ctx, "q-debug")
	require.NoError(t, err)
	require.Len(t, stored, 3)
}

func TestGenerateFallsBackOnInvalidOutput(t *testing.T) {
	tests := []struct {
		name     string
		spec     models.QuestionSpec
		expected models.TestCase
	}{
		{
			name:     "program question",
			spec:     models.QuestionSpec{ID: "q-explain", Type: models.QuestionTypeExplain, Language: "python"},
			expected: models.TestCase{Input: "", ExpectedOutput: "", Description: "Program runs without input"},
		},
		{
			name:     "schema question",
			spec:     models.QuestionSpec{ID: "q-schema", Type: models.QuestionTypeDBSchema},
			expected: models.TestCase{Input: "SELECT 1;", ExpectedOutput: "VALID", Description: "Schema executes without errors"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &scriptedCompleter{respond: func(int, ai.CompletionRequest) (string, error) {
				return `{"test_cases": "not a list"}`, nil
			}}
			svc, questions := newTestCaseHarness(t, completer)
			seedQuestion(t, questions, tt.spec)

			cases, err := svc.Generate(context.Background(), tt.spec.ID)
			require.NoError(t, err)
			require.Len(t, cases, 1)
			require.Equal(t, tt.expected.Input, cases[0].Input)
			require.Equal(t, tt.expected.ExpectedOutput, cases[0].ExpectedOutput)
			require.Equal(t, tt.expected.Description, cases[0].Description)
		})
	}
}

func TestGenerateFallsBackOnTooFewCases(t *testing.T) {
	completer := &scriptedCompleter{respond: func(int, ai.CompletionRequest) (string, error) {
		return generatedCases(2), nil
	}}
	svc, questions := newTestCaseHarness(t, completer)
	seedQuestion(t, questions, debugSpec())

	cases, err := svc.Generate(context.Background(), "q-debug")
	require.NoError(t, err)
	require.Len(t, cases, 1)
	require.Equal(t, "Program runs without input", cases[0].Description)
}

func TestGenerateWithoutCompleterUsesFallback(t *testing.T) {
	svc, questions := newTestCaseHarness(t, nil)
	seedQuestion(t, questions, models.QuestionSpec{ID: "q-schema", Type: models.QuestionTypeDBSchema})

	cases, err := svc.Generate(context.Background(), "q-schema")
	require.NoError(t, err)
	require.Len(t, cases, 1)
	require.Equal(t, "SELECT 1;", cases[0].Input)
}

func TestGenerateUnknownQuestion(t *testing.T) {
	svc, _ := newTestCaseHarness(t, nil)

	_, err := svc.Generate(context.Background(), "missing")
	require.ErrorIs(t, err, ErrQuestionNotFound)

	_, err = svc.List(context.Background(), "missing")
	require.ErrorIs(t, err, ErrQuestionNotFound)
}

func TestGenerateReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	completer := &scriptedCompleter{respond: func(int, ai.CompletionRequest) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	svc, questions := newTestCaseHarness(t, completer)
	seedQuestion(t, questions, debugSpec())

	_, err := svc.Generate(ctx, "q-debug")
	require.ErrorIs(t, err, context.Canceled)

	stored, err := svc.List(context.Background(), "q-debug")
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

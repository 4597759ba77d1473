package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/pkg/sandbox"
)

const (
	stderrExcerptLength = 300
	feedbackFiller      = "No additional feedback"
	feedbackNoExecution = "The sandbox was unreachable, so this score comes from reading the code without running it"
)

// CodeRunner is the part of the execution client the evaluators depend on.
type CodeRunner interface {
	Execute(ctx context.Context, req sandbox.ExecuteRequest) (sandbox.ExecutionResult, error)
	RunTestCases(ctx context.Context, code, language string, cases []sandbox.TestCase) []sandbox.TestOutcome
	CompareBuggyVsFixed(ctx context.Context, buggy, fixed, language string, cases []sandbox.TestCase) sandbox.Comparison
}

// Submission is a candidate answer together with its parsed fields.
type Submission struct {
	dto.CandidateSubmission
	Parsed ParsedResponse
}

// Outcome is what an evaluator produced. Executed is true when the sandbox
// was consulted for evidence.
type Outcome struct {
	Evaluation dto.QuestionEvaluation
	Executed   bool
}

// QuestionEvaluator scores one question type.
type QuestionEvaluator interface {
	Type() models.QuestionType
	Evaluate(ctx context.Context, spec models.QuestionSpec, submission Submission) (Outcome, error)
}

func newEvaluation(spec models.QuestionSpec, score float64, feedback []string, lowConfidence bool, details map[string]interface{}) dto.QuestionEvaluation {
	if details == nil {
		details = map[string]interface{}{}
	}
	return dto.QuestionEvaluation{
		QuestionID:    spec.ID,
		QuestionTitle: spec.Title,
		QuestionType:  string(spec.Type),
		Score:         round2(clampScore(score)),
		Feedback:      normalizeFeedback(feedback),
		LowConfidence: lowConfidence,
		Details:       details,
	}
}

// degradedEvaluation stands in for a question whose evaluation could not run.
func degradedEvaluation(spec models.QuestionSpec, cause error) dto.QuestionEvaluation {
	return newEvaluation(spec, 0, []string{
		"Evaluation failed due to error",
		"Error: " + truncateRunes(cause.Error(), maxFeedbackLength-len("Error: ")),
		"Manual review required",
	}, true, map[string]interface{}{
		"error":     cause.Error(),
		"execution": "failed",
	})
}

// withExecutionNote replaces the last feedback line with a notice that the
// score was given without execution evidence.
func withExecutionNote(feedback []string) []string {
	lines := normalizeFeedback(feedback)
	lines[len(lines)-1] = feedbackNoExecution
	return lines
}

// normalizeFeedback returns exactly three non-empty lines.
func normalizeFeedback(lines []string) []string {
	out := make([]string, 0, 3)
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, truncateRunes(line, maxFeedbackLength))
		}
		if len(out) == 3 {
			break
		}
	}
	for len(out) < 3 {
		out = append(out, feedbackFiller)
	}
	return out
}

func toSandboxCases(cases []models.TestCase) []sandbox.TestCase {
	converted := make([]sandbox.TestCase, 0, len(cases))
	for _, tc := range cases {
		converted = append(converted, sandbox.TestCase{
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			Description:    tc.Description,
			Difficulty:     tc.Difficulty,
		})
	}
	return converted
}

func excerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return strings.TrimSpace(truncateRunes(text, limit)) + "..."
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// describeOutcomes renders test outcomes for a judgment prompt.
func describeOutcomes(label string, summary sandbox.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d/%d tests passed", label, summary.PassedCount, summary.TotalCount)
	if summary.CompileError {
		b.WriteString(", compilation failed")
	}
	if summary.RuntimeErrors > 0 {
		fmt.Fprintf(&b, ", %d runtime errors", summary.RuntimeErrors)
	}
	if summary.NetworkErrors > 0 {
		fmt.Fprintf(&b, ", %d runs could not reach the sandbox", summary.NetworkErrors)
	}
	b.WriteString("\n")

	for i, o := range summary.Outcomes {
		status := "FAIL"
		if o.Passed {
			status = "PASS"
		}
		fmt.Fprintf(&b, "  #%d [%s] %s\n", i+1, status, o.TestCase.Description)
		fmt.Fprintf(&b, "    input: %q\n    expected: %q\n    actual: %q\n", o.TestCase.Input, o.TestCase.ExpectedOutput, o.ActualOutput)
		if stderr := excerpt(o.Stderr, stderrExcerptLength); stderr != "" {
			fmt.Fprintf(&b, "    stderr: %s\n", stderr)
		}
		if o.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", o.Error)
		}
	}
	return b.String()
}

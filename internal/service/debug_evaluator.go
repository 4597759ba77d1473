package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/pkg/sandbox"
)

type outcomeDetail struct {
	Description    string `json:"description,omitempty"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	ActualOutput   string `json:"actual_output"`
	Passed         bool   `json:"passed"`
	Classification string `json:"classification"`
	Stderr         string `json:"stderr,omitempty"`
	Error          string `json:"error,omitempty"`
}

type debugEvaluator struct {
	runner CodeRunner
	engine JudgmentEngine
	logger zerolog.Logger
}

// NewDebugEvaluator grades bug-fix questions from execution evidence and judgment.
func NewDebugEvaluator(runner CodeRunner, engine JudgmentEngine, logger zerolog.Logger) QuestionEvaluator {
	return &debugEvaluator{
		runner: runner,
		engine: engine,
		logger: logger.With().Str("component", "debug_evaluator").Logger(),
	}
}

func (e *debugEvaluator) Type() models.QuestionType {
	return models.QuestionTypeDebug
}

func (e *debugEvaluator) Evaluate(ctx context.Context, spec models.QuestionSpec, submission Submission) (Outcome, error) {
	code := strings.TrimSpace(submission.Parsed.Code.Text)
	explanation := strings.TrimSpace(submission.Parsed.Explanation.Text)

	if code == "" {
		score := 0.0
		second := "The FIXED CODE section was missing or empty"
		if explanation != "" {
			score = 1
			second = "An explanation was given but there is no fixed code to verify"
		}
		return Outcome{Evaluation: newEvaluation(spec, score, []string{
			"No code submitted",
			second,
			"Submit the corrected program under FIXED CODE: so it can be executed",
		}, false, map[string]interface{}{
			"execution":           "skipped",
			"reason":              "no code submitted",
			"code_marker_present": submission.Parsed.Code.Present,
			"explanation_present": explanation != "",
		})}, nil
	}

	details := map[string]interface{}{"execution": "executed"}
	cases := toSandboxCases(spec.TestCases)
	buggy := strings.TrimSpace(spec.BuggyCode)

	if len(cases) > 0 || strings.TrimSpace(spec.ExpectedOutput) != "" {
		if _, ok := sandbox.ResolveLanguage(spec.Language); !ok {
			return Outcome{}, fmt.Errorf("debug question %s: %w", spec.ID, &sandbox.ValidationError{
				Field:  "language",
				Reason: fmt.Sprintf("%q is not supported", spec.Language),
				Err:    sandbox.ErrUnsupportedLanguage,
			})
		}
	}

	var (
		fixed    sandbox.RunSummary
		evidence string
		executed = true
	)

	switch {
	case len(cases) > 0 && buggy != "":
		comparison := e.runner.CompareBuggyVsFixed(ctx, spec.BuggyCode, code, spec.Language, cases)
		fixed = comparison.Fixed
		evidence = describeOutcomes("Buggy code", comparison.Buggy) + describeOutcomes("Fixed code", comparison.Fixed)
		details["buggy_results"] = summaryDetails(comparison.Buggy)
		details["improvement"] = round2(comparison.Improvement)
		details["tests_fixed"] = comparison.TestsFixed
	case len(cases) > 0:
		fixed = sandbox.Summarize(e.runner.RunTestCases(ctx, code, spec.Language, cases))
		evidence = describeOutcomes("Fixed code", fixed)
	case strings.TrimSpace(spec.ExpectedOutput) != "":
		single := []sandbox.TestCase{{ExpectedOutput: spec.ExpectedOutput, Description: "expected output"}}
		fixed = sandbox.Summarize(e.runner.RunTestCases(ctx, code, spec.Language, single))
		evidence = describeOutcomes("Fixed code", fixed)
	default:
		executed = false
		evidence = "No test cases or expected output were available, judge the code by reading it."
		details["execution"] = "skipped"
		details["reason"] = "no test cases"
	}

	if executed {
		details["fixed_results"] = summaryDetails(fixed)
		details["passed_count"] = fixed.PassedCount
		details["total_count"] = fixed.TotalCount
		details["compilation_error"] = fixed.CompileError
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	judgment := e.engine.Judge(ctx, JudgmentRequest{
		Kind:   string(models.QuestionTypeDebug),
		System: judgeSystemPrompt,
		Prompt: debugJudgmentPrompt(spec.Title, spec.Language, spec.Prompt, spec.BuggyCode, code, explanation, evidence),
	})

	score := judgment.Score
	feedback := judgment.Feedback
	lowConfidence := judgment.Fallback || !executed
	if executed {
		if fixed.NetworkErrors > 0 {
			lowConfidence = true
		}
		if fixed.Executed() > 0 {
			score = applyExecutionBand(score, fixed)
		} else {
			details["execution"] = "unavailable"
			feedback = withExecutionNote(feedback)
		}
	}
	details["judgment_fallback"] = judgment.Fallback

	e.logger.Debug().
		Str("question_id", spec.ID).
		Int("passed", fixed.PassedCount).
		Int("total", fixed.TotalCount).
		Float64("judged", judgment.Score).
		Float64("score", score).
		Msg("debug question evaluated")

	return Outcome{
		Evaluation: newEvaluation(spec, score, feedback, lowConfidence, details),
		Executed:   executed,
	}, nil
}

// applyExecutionBand keeps the judged score consistent with what the tests showed.
func applyExecutionBand(score float64, summary sandbox.RunSummary) float64 {
	switch {
	case summary.AllPassed():
		return math.Max(score, 7)
	case summary.PassedCount > 0 && summary.PassedCount == summary.Executed():
		// every run that reached the sandbox passed; the rest is missing evidence
		return score
	case summary.PassedCount > 0:
		return math.Min(score, 6)
	case summary.CompileError || summary.RuntimeErrors > 0:
		return math.Min(score, 2)
	default:
		return math.Min(score, 3)
	}
}

func summaryDetails(summary sandbox.RunSummary) map[string]interface{} {
	results := make([]outcomeDetail, 0, len(summary.Outcomes))
	for _, o := range summary.Outcomes {
		results = append(results, outcomeDetail{
			Description:    o.TestCase.Description,
			Input:          o.TestCase.Input,
			ExpectedOutput: o.TestCase.ExpectedOutput,
			ActualOutput:   o.ActualOutput,
			Passed:         o.Passed,
			Classification: string(o.Classification),
			Stderr:         excerpt(o.Stderr, stderrExcerptLength),
			Error:          o.Error,
		})
	}
	return map[string]interface{}{
		"test_results":      results,
		"passed_count":      summary.PassedCount,
		"total_count":       summary.TotalCount,
		"compilation_error": summary.CompileError,
		"runtime_errors":    summary.RuntimeErrors,
		"network_errors":    summary.NetworkErrors,
	}
}

package sandbox

import (
	"context"
	"strings"
)

// OutputsMatch compares program output with the expectation after trimming
// surrounding whitespace. Internal whitespace and numeric formatting are significant.
func OutputsMatch(actual, expected string) bool {
	return strings.TrimSpace(actual) == strings.TrimSpace(expected)
}

// RunTestCases executes code once per case, strictly in declared order.
// Failed executions are recorded as outcomes; the slice always has len(cases) entries.
// A case passes whenever the sandbox produced output equal to the expectation
// after trimming, whatever the exit status.
func (c *Client) RunTestCases(ctx context.Context, code, language string, cases []TestCase) []TestOutcome {
	outcomes := make([]TestOutcome, 0, len(cases))

	for i, tc := range cases {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, skippedOutcome(tc, err))
			continue
		}

		result, err := c.Execute(ctx, ExecuteRequest{Code: code, Language: language, Stdin: tc.Input})
		outcome := TestOutcome{
			TestCase:       tc,
			ActualOutput:   strings.TrimSpace(result.Stdout),
			Stderr:         result.Stderr,
			ExitCode:       result.ExitCode,
			Classification: result.Classification,
		}

		switch {
		case err != nil:
			outcome.Classification = ClassificationNetworkError
			outcome.Error = err.Error()
		case result.Classification == ClassificationNetworkError:
			outcome.Error = executionFailure(result)
		default:
			// pass/fail depends on output alone; the classification stays as evidence
			outcome.Passed = OutputsMatch(result.Stdout, tc.ExpectedOutput)
			if result.Classification != ClassificationOK {
				outcome.Error = executionFailure(result)
			}
		}

		c.logger.Debug().
			Int("case", i+1).
			Str("language", language).
			Str("classification", string(outcome.Classification)).
			Bool("passed", outcome.Passed).
			Msg("test case executed")

		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

// Summarize counts passes and failure classes across outcomes.
func Summarize(outcomes []TestOutcome) RunSummary {
	summary := RunSummary{Outcomes: outcomes, TotalCount: len(outcomes)}
	for _, o := range outcomes {
		if o.Passed {
			summary.PassedCount++
		}
		switch o.Classification {
		case ClassificationCompileError:
			summary.CompileError = true
		case ClassificationRuntimeError, ClassificationTimeout:
			summary.RuntimeErrors++
		case ClassificationNetworkError:
			summary.NetworkErrors++
		}
	}
	return summary
}

// CompareBuggyVsFixed runs both variants through the same cases, buggy first.
func (c *Client) CompareBuggyVsFixed(ctx context.Context, buggy, fixed, language string, cases []TestCase) Comparison {
	buggySummary := Summarize(c.RunTestCases(ctx, buggy, language, cases))
	fixedSummary := Summarize(c.RunTestCases(ctx, fixed, language, cases))

	comparison := Comparison{
		Buggy:      buggySummary,
		Fixed:      fixedSummary,
		TestsFixed: fixedSummary.PassedCount - buggySummary.PassedCount,
	}
	if total := len(cases); total > 0 {
		comparison.Improvement = float64(comparison.TestsFixed) / float64(total) * 100
	}
	return comparison
}

func skippedOutcome(tc TestCase, err error) TestOutcome {
	return TestOutcome{
		TestCase:       tc,
		ExitCode:       -1,
		Classification: ClassificationNetworkError,
		Error:          err.Error(),
	}
}

func executionFailure(result ExecutionResult) string {
	switch result.Classification {
	case ClassificationCompileError:
		return "compilation failed"
	case ClassificationTimeout:
		return "execution timed out"
	case ClassificationNetworkError:
		if result.Error != "" {
			return "sandbox unreachable: " + result.Error
		}
		return "sandbox unreachable"
	default:
		return "execution failed"
	}
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/pkg/sandbox"
)

const schemaLanguage = "sql"

type schemaEvaluator struct {
	runner CodeRunner
	engine JudgmentEngine
	logger zerolog.Logger
}

// NewSchemaEvaluator grades database design answers. The schema must execute
// cleanly before the design is judged.
func NewSchemaEvaluator(runner CodeRunner, engine JudgmentEngine, logger zerolog.Logger) QuestionEvaluator {
	return &schemaEvaluator{
		runner: runner,
		engine: engine,
		logger: logger.With().Str("component", "schema_evaluator").Logger(),
	}
}

func (e *schemaEvaluator) Type() models.QuestionType {
	return models.QuestionTypeDBSchema
}

func (e *schemaEvaluator) Evaluate(ctx context.Context, spec models.QuestionSpec, submission Submission) (Outcome, error) {
	parsed := submission.Parsed
	schema := strings.TrimSpace(parsed.SQLSchema.Text)
	design := strings.TrimSpace(parsed.DesignExplanation.Text)
	queries := strings.TrimSpace(parsed.ExampleQueries.Text)

	if schema == "" {
		return Outcome{Evaluation: newEvaluation(spec, 0, []string{
			"No SQL schema submitted",
			"The SQL SCHEMA section was missing or empty",
			"Provide CREATE TABLE statements under SQL SCHEMA:",
		}, false, map[string]interface{}{
			"execution":      "skipped",
			"sql_validation": map[string]interface{}{"status": "missing"},
		})}, nil
	}

	validation, err := e.runSQL(ctx, schema)
	if err != nil {
		return Outcome{}, err
	}

	details := map[string]interface{}{"execution": "executed"}

	switch validation.status {
	case "invalid":
		details["sql_validation"] = validation.details()
		score := 0.0
		third := "Provide a design explanation alongside the schema"
		if design != "" {
			score = 1
			third = "The design explanation was noted but cannot be credited without a valid schema"
		}
		return Outcome{Evaluation: newEvaluation(spec, score, []string{
			"SQL schema failed validation: " + excerpt(validation.message, 200),
			"The schema must execute cleanly before the design can be assessed",
			third,
		}, false, details), Executed: true}, nil
	case "unavailable":
		details["execution"] = "unavailable"
	}
	details["sql_validation"] = validation.details()

	var queryEvidence string
	if queries != "" && validation.status == "valid" {
		result, err := e.runSQL(ctx, schema+"\n"+queries)
		if err != nil {
			return Outcome{}, err
		}
		details["example_queries"] = result.details()
		queryEvidence = fmt.Sprintf("%s\n-- status: %s\n-- output: %s", queries, result.status, excerpt(result.message, stderrExcerptLength))
	} else if queries != "" {
		queryEvidence = queries + "\n-- not executed"
	}

	judgment := e.engine.Judge(ctx, JudgmentRequest{
		Kind:   string(models.QuestionTypeDBSchema),
		System: judgeSystemPrompt,
		Prompt: schemaJudgmentPrompt(spec.Title, spec.Prompt, spec.Requirements, schema, design, queryEvidence),
	})
	details["judgment_fallback"] = judgment.Fallback

	feedback := judgment.Feedback
	lowConfidence := judgment.Fallback || validation.status == "unavailable"
	if validation.status == "unavailable" {
		feedback = withExecutionNote(feedback)
	}
	e.logger.Debug().
		Str("question_id", spec.ID).
		Str("validation", validation.status).
		Float64("score", judgment.Score).
		Msg("schema question evaluated")

	return Outcome{
		Evaluation: newEvaluation(spec, judgment.Score, feedback, lowConfidence, details),
		Executed:   validation.status != "unavailable",
	}, nil
}

type sqlRun struct {
	status  string
	message string
	output  string
}

func (r sqlRun) details() map[string]interface{} {
	d := map[string]interface{}{
		"status": r.status,
		"valid":  r.status == "valid",
	}
	if r.message != "" {
		d["error"] = excerpt(r.message, stderrExcerptLength)
	}
	if r.output != "" {
		d["output"] = excerpt(r.output, stderrExcerptLength)
	}
	return d
}

// runSQL only returns an error when ctx is done.
func (e *schemaEvaluator) runSQL(ctx context.Context, script string) (sqlRun, error) {
	result, err := e.runner.Execute(ctx, sandbox.ExecuteRequest{Code: script, Language: schemaLanguage})
	if err != nil {
		if ctx.Err() != nil {
			return sqlRun{}, ctx.Err()
		}
		return sqlRun{status: "unavailable", message: err.Error()}, nil
	}

	stderr := strings.TrimSpace(result.Stderr)
	switch {
	case result.Classification == sandbox.ClassificationNetworkError:
		return sqlRun{status: "unavailable", message: result.Error}, nil
	case result.Classification != sandbox.ClassificationOK || stderr != "":
		message := stderr
		if message == "" {
			message = fmt.Sprintf("exit code %d", result.ExitCode)
		}
		return sqlRun{status: "invalid", message: message, output: strings.TrimSpace(result.Stdout)}, nil
	default:
		return sqlRun{status: "valid", output: strings.TrimSpace(result.Stdout)}, nil
	}
}

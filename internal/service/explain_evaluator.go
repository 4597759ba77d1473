package service

import (
	"context"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

type explainEvaluator struct {
	engine JudgmentEngine
}

// NewExplainEvaluator grades code explanations from text alone.
func NewExplainEvaluator(engine JudgmentEngine) QuestionEvaluator {
	return &explainEvaluator{engine: engine}
}

func (e *explainEvaluator) Type() models.QuestionType {
	return models.QuestionTypeExplain
}

func (e *explainEvaluator) Evaluate(ctx context.Context, spec models.QuestionSpec, submission Submission) (Outcome, error) {
	analysis := submission.Parsed.Analysis
	if analysis.Empty() {
		return Outcome{Evaluation: newEvaluation(spec, 0, []string{
			"No explanation submitted",
			"The answer did not describe what the code does",
			"Cover behaviour, complexity and possible improvements",
		}, false, map[string]interface{}{"execution": "not_applicable"})}, nil
	}

	code := spec.WorkingCode
	if code == "" {
		code = spec.BuggyCode
	}

	judgment := e.engine.Judge(ctx, JudgmentRequest{
		Kind:   string(models.QuestionTypeExplain),
		System: judgeSystemPrompt,
		Prompt: explainJudgmentPrompt(spec.Title, spec.Language, code, analysis.Text),
	})

	return Outcome{Evaluation: newEvaluation(spec, judgment.Score, judgment.Feedback, judgment.Fallback, map[string]interface{}{
		"execution":         "not_applicable",
		"judgment_fallback": judgment.Fallback,
	})}, nil
}

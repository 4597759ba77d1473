package service

import (
	"context"
	"sort"
	"strings"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

type qcmEvaluator struct{}

// NewQCMEvaluator grades multiple-choice questions by exact match against the answer key.
func NewQCMEvaluator() QuestionEvaluator {
	return qcmEvaluator{}
}

func (qcmEvaluator) Type() models.QuestionType {
	return models.QuestionTypeQCM
}

func (qcmEvaluator) Evaluate(_ context.Context, spec models.QuestionSpec, submission Submission) (Outcome, error) {
	selected := submission.SelectedAnswers
	if len(selected) == 0 && !submission.Parsed.Answer.Empty() {
		selected = strings.Split(submission.Parsed.Answer.Text, ",")
	}

	expected := normalizeChoices(spec.AnswerKey)
	got := normalizeChoices(selected)
	details := map[string]interface{}{
		"execution":        "not_applicable",
		"selected_answers": got,
		"correct_answers":  expected,
	}

	if len(expected) == 0 {
		return Outcome{Evaluation: newEvaluation(spec, 0, []string{
			"No answer key configured for this question",
			"Selected: " + strings.Join(got, ", "),
			feedbackReview,
		}, true, details)}, nil
	}

	correct := choicesEqual(expected, got)
	details["is_correct"] = correct

	score := 0.0
	verdict := "Incorrect answer"
	if correct {
		score = 10
		verdict = "Correct answer selected"
	}

	return Outcome{Evaluation: newEvaluation(spec, score, []string{
		verdict,
		"Expected: " + strings.Join(expected, ", "),
		"Selected: " + strings.Join(got, ", "),
	}, false, details)}, nil
}

func normalizeChoices(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func choicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type openEvaluator struct {
	engine JudgmentEngine
}

// NewOpenEvaluator grades free-form answers on technical vocabulary and on grammar and flow.
func NewOpenEvaluator(engine JudgmentEngine) QuestionEvaluator {
	return &openEvaluator{engine: engine}
}

func (e *openEvaluator) Type() models.QuestionType {
	return models.QuestionTypeOpen
}

func (e *openEvaluator) Evaluate(ctx context.Context, spec models.QuestionSpec, submission Submission) (Outcome, error) {
	answer := submission.Parsed.Answer
	if answer.Empty() {
		return Outcome{Evaluation: newEvaluation(spec, 0, []string{
			"No answer submitted",
			"The response was empty",
			"Answer the question in full sentences",
		}, false, map[string]interface{}{"execution": "not_applicable"})}, nil
	}

	scored := scoreOpenAnswer(ctx, e.engine, spec.Prompt, spec.ReferenceAnswer, answer.Text)
	return Outcome{Evaluation: newEvaluation(spec, scored.Score(), []string{
		truncateRunes(scored.Feedback, maxFeedbackLength),
		"Technical vocabulary: " + scored.Technical.Justification,
		"Grammar and flow: " + scored.Grammar.Justification,
	}, scored.Fallback(), map[string]interface{}{
		"execution":             "not_applicable",
		"technical_vocab_score": round2(scored.Technical.Score),
		"grammar_flow_score":    round2(scored.Grammar.Score),
	})}, nil
}

// openScore is the two-dimension grading of one free-form answer.
type openScore struct {
	Technical DimensionScore
	Grammar   DimensionScore
	Feedback  string
}

func (s openScore) Score() float64 {
	return (s.Technical.Score + s.Grammar.Score) / 2
}

func (s openScore) Fallback() bool {
	return s.Technical.Fallback || s.Grammar.Fallback
}

func scoreOpenAnswer(ctx context.Context, engine JudgmentEngine, question, reference, answer string) openScore {
	technical := engine.ScoreDimension(ctx, DimensionRequest{
		Dimension: "technical_vocabulary",
		System:    dimensionSystemPrompt,
		Prompt:    technicalVocabularyPrompt(question, reference, answer),
	})
	grammar := engine.ScoreDimension(ctx, DimensionRequest{
		Dimension: "grammar_flow",
		System:    dimensionSystemPrompt,
		Prompt:    grammarFlowPrompt(question, answer),
	})

	feedback := engine.ComposeFeedback(ctx, feedbackSystemPrompt,
		openFeedbackPrompt(question, answer, technical, grammar),
		joinFeedback(grammar.Justification, technical.Justification))

	return openScore{Technical: technical, Grammar: grammar, Feedback: feedback}
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/observability"
)

// TextInterviewService grades interviews made of multiple-choice and open questions.
type TextInterviewService interface {
	Evaluate(ctx context.Context, req dto.TextInterviewRequest) (dto.TextEvaluationReport, error)
}

type textInterviewService struct {
	engine    JudgmentEngine
	reports   ReportService
	weights   TextWeights
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewTextInterviewService constructs the text-track evaluator.
func NewTextInterviewService(engine JudgmentEngine, reports ReportService, weights TextWeights, validate *validator.Validate, logger zerolog.Logger) TextInterviewService {
	return &textInterviewService{
		engine:    engine,
		reports:   reports,
		weights:   weights,
		validator: validate,
		logger:    logger.With().Str("component", "text_interview_service").Logger(),
		now:       time.Now,
	}
}

func (s *textInterviewService) Evaluate(ctx context.Context, req dto.TextInterviewRequest) (dto.TextEvaluationReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.TextEvaluationReport{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	report := dto.TextEvaluationReport{
		Key:                  ReportKey(textReportPrefix, req.CandidateName, req.InterviewDate),
		Track:                dto.TrackText,
		CandidateName:        req.CandidateName,
		JobTitle:             req.JobTitle,
		DifficultyLevel:      req.DifficultyLevel,
		InterviewDate:        req.InterviewDate,
		OpenQuestionFeedback: []dto.OpenQuestionDetail{},
	}
	logger := s.logger.With().Str("candidate", req.CandidateName).Str("report_key", report.Key).Logger()

	var (
		qcmTotal, qcmCorrect int
		technical, grammar   []float64
		notes                []string
	)

	for _, q := range req.Questions {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if q.Type == "qcm" {
			qcmTotal++
			if qcmCorrectAnswer(q) {
				qcmCorrect++
			}
			continue
		}

		detail := s.evaluateOpen(ctx, q)
		technical = append(technical, detail.TechnicalVocabScore)
		grammar = append(grammar, detail.GrammarFlowScore)
		if detail.LowConfidence {
			report.LowConfidenceCount++
		}
		report.OpenQuestionFeedback = append(report.OpenQuestionFeedback, detail)
		notes = append(notes, fmt.Sprintf("%s: technical %.1f, grammar %.1f. %s", q.QuestionText, detail.TechnicalVocabScore, detail.GrammarFlowScore, detail.Feedback))
	}

	report.QCMScore = QCMScore(qcmCorrect, qcmTotal)
	report.QCMDetails = dto.QCMDetails{TotalQuestions: qcmTotal, CorrectAnswers: qcmCorrect}
	if qcmTotal > 0 {
		report.QCMDetails.Percentage = round2(float64(qcmCorrect) / float64(qcmTotal) * 100)
	}
	report.TechnicalVocabScore = round2(average(technical))
	report.GrammarFlowScore = round2(average(grammar))
	report.OverallScore = s.weights.Overall(report.QCMScore, report.TechnicalVocabScore, report.GrammarFlowScore)

	if err := ctx.Err(); err != nil {
		return report, err
	}

	fallback := fmt.Sprintf("%s. Overall score %.2f/10 with QCM %.2f, technical vocabulary %.2f and grammar and flow %.2f.",
		textBand(report.OverallScore), report.OverallScore, report.QCMScore, report.TechnicalVocabScore, report.GrammarFlowScore)
	header := fmt.Sprintf("Job title: %s\nQCM: %d/%d correct", req.JobTitle, qcmCorrect, qcmTotal)
	report.EvaluationSummary = s.engine.ComposeFeedback(ctx, feedbackSystemPrompt, summaryPrompt(req.CandidateName, header, report.OverallScore, notes), fallback)
	report.EvaluationTimestamp = s.now().UTC()

	if err := s.reports.Save(ctx, ReportRecord{
		Key:                report.Key,
		Track:              report.Track,
		CandidateName:      report.CandidateName,
		InterviewDate:      report.InterviewDate,
		OverallScore:       report.OverallScore,
		LowConfidenceCount: report.LowConfidenceCount,
		EvaluatedAt:        report.EvaluationTimestamp,
		Report:             report,
	}); err != nil {
		observability.Evaluations().WithLabelValues(dto.TrackText, "persistence_failed").Inc()
		return report, err
	}

	observability.Evaluations().WithLabelValues(dto.TrackText, "completed").Inc()
	logger.Info().Float64("overall_score", report.OverallScore).Msg("text interview evaluated")
	return report, nil
}

func (s *textInterviewService) evaluateOpen(ctx context.Context, q dto.TextInterviewQuestion) dto.OpenQuestionDetail {
	detail := dto.OpenQuestionDetail{
		QuestionID: q.QuestionID,
		Question:   q.QuestionText,
		Response:   q.Response,
	}
	if strings.TrimSpace(q.Response) == "" {
		detail.Feedback = "No answer submitted."
		return detail
	}

	scored := scoreOpenAnswer(ctx, s.engine, q.QuestionText, q.ReferenceAnswer, q.Response)
	detail.TechnicalVocabScore = round2(scored.Technical.Score)
	detail.GrammarFlowScore = round2(scored.Grammar.Score)
	detail.Feedback = scored.Feedback
	detail.LowConfidence = scored.Fallback()
	return detail
}

// qcmCorrectAnswer trusts an explicit verdict and otherwise compares answer sets.
func qcmCorrectAnswer(q dto.TextInterviewQuestion) bool {
	if q.IsCorrect != nil {
		return *q.IsCorrect
	}
	expected := normalizeChoices(q.CorrectAnswers)
	return len(expected) > 0 && choicesEqual(expected, normalizeChoices(q.SelectedAnswers))
}

func textBand(score float64) string {
	switch {
	case score >= 8:
		return "Excellent written interview"
	case score >= 6:
		return "Good written interview with room for improvement"
	case score >= 4:
		return "Average written interview, key areas need development"
	default:
		return "Written interview needs significant improvement"
	}
}

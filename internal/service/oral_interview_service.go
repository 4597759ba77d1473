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

var oralDimensions = []string{"relevance", "technical_vocabulary", "coherence", "clarity"}

// OralInterviewService grades transcribed spoken interviews.
type OralInterviewService interface {
	Evaluate(ctx context.Context, req dto.OralInterviewRequest) (dto.OralEvaluationReport, error)
}

type oralInterviewService struct {
	engine    JudgmentEngine
	reports   ReportService
	weights   OralWeights
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewOralInterviewService constructs the oral-track evaluator.
func NewOralInterviewService(engine JudgmentEngine, reports ReportService, weights OralWeights, validate *validator.Validate, logger zerolog.Logger) OralInterviewService {
	return &oralInterviewService{
		engine:    engine,
		reports:   reports,
		weights:   weights,
		validator: validate,
		logger:    logger.With().Str("component", "oral_interview_service").Logger(),
		now:       time.Now,
	}
}

type exchange struct {
	Turn      int
	Question  string
	Response  string
	AudioFile string
}

// pairExchanges matches each candidate turn with the latest interviewer turn before it.
func pairExchanges(conversation []dto.ConversationTurn) []exchange {
	var (
		pairs    []exchange
		question string
	)
	for _, turn := range conversation {
		text := strings.TrimSpace(turn.Text)
		switch turn.Speaker {
		case "interviewer":
			question = text
		case "candidate":
			if question == "" || text == "" {
				continue
			}
			pairs = append(pairs, exchange{Turn: turn.Turn, Question: question, Response: text, AudioFile: turn.AudioFile})
		}
	}
	return pairs
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func sentenceCount(text string) int {
	count := 0
	for _, part := range strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' }) {
		if strings.TrimSpace(part) != "" {
			count++
		}
	}
	return count
}

func (s *oralInterviewService) Evaluate(ctx context.Context, req dto.OralInterviewRequest) (dto.OralEvaluationReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.OralEvaluationReport{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	report := dto.OralEvaluationReport{
		Key:                 ReportKey(oralReportPrefix, req.CandidateName, req.InterviewDate),
		Track:               dto.TrackOral,
		CandidateName:       req.CandidateName,
		InterviewDate:       req.InterviewDate,
		DurationMinutes:     req.DurationMinutes,
		TotalTurns:          len(req.Conversation),
		DifficultyScore:     req.DifficultyScore,
		QuestionEvaluations: []dto.OralQuestionDetail{},
	}
	logger := s.logger.With().Str("candidate", req.CandidateName).Str("report_key", report.Key).Logger()

	var relevance, technical, coherence, clarity []float64
	var notes []string

	for _, pair := range pairExchanges(req.Conversation) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		detail := s.evaluateExchange(ctx, pair)
		relevance = append(relevance, detail.RelevanceScore)
		technical = append(technical, detail.TechnicalVocabScore)
		coherence = append(coherence, detail.CoherenceScore)
		clarity = append(clarity, detail.ClarityScore)
		if detail.LowConfidence {
			report.LowConfidenceCount++
		}
		report.QuestionEvaluations = append(report.QuestionEvaluations, detail)
		notes = append(notes, fmt.Sprintf("%s: %s", pair.Question, detail.Feedback))
	}

	report.RelevanceScore = round2(average(relevance))
	report.TechnicalVocabScore = round2(average(technical))
	report.CoherenceScore = round2(average(coherence))
	report.ClarityScore = round2(average(clarity))
	report.OverallScore = s.weights.Overall(report.TechnicalVocabScore, report.CoherenceScore, report.RelevanceScore, report.ClarityScore)

	if err := ctx.Err(); err != nil {
		return report, err
	}

	fallback := fmt.Sprintf("Overall oral score %.2f/10 across %d answers, technical vocabulary %.2f, coherence %.2f, relevance %.2f, clarity %.2f.",
		report.OverallScore, len(report.QuestionEvaluations), report.TechnicalVocabScore, report.CoherenceScore, report.RelevanceScore, report.ClarityScore)
	header := fmt.Sprintf("Oral interview, %.0f minutes, topics: %s", req.DurationMinutes, strings.Join(req.TopicsCovered, ", "))
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
		observability.Evaluations().WithLabelValues(dto.TrackOral, "persistence_failed").Inc()
		return report, err
	}

	observability.Evaluations().WithLabelValues(dto.TrackOral, "completed").Inc()
	logger.Info().Float64("overall_score", report.OverallScore).Int("answers", len(report.QuestionEvaluations)).Msg("oral interview evaluated")
	return report, nil
}

func (s *oralInterviewService) evaluateExchange(ctx context.Context, pair exchange) dto.OralQuestionDetail {
	detail := dto.OralQuestionDetail{
		Turn:          pair.Turn,
		Question:      pair.Question,
		Response:      pair.Response,
		AudioFile:     pair.AudioFile,
		WordCount:     wordCount(pair.Response),
		SentenceCount: sentenceCount(pair.Response),
	}

	scores := make(map[string]DimensionScore, len(oralDimensions))
	for _, dimension := range oralDimensions {
		score := s.engine.ScoreDimension(ctx, DimensionRequest{
			Dimension: dimension,
			System:    dimensionSystemPrompt,
			Prompt:    oralDimensionPrompt(dimension, pair.Question, pair.Response, detail.WordCount, detail.SentenceCount),
		})
		scores[dimension] = score
		if score.Fallback {
			detail.LowConfidence = true
		}
	}

	detail.RelevanceScore = round2(scores["relevance"].Score)
	detail.TechnicalVocabScore = round2(scores["technical_vocabulary"].Score)
	detail.CoherenceScore = round2(scores["coherence"].Score)
	detail.ClarityScore = round2(scores["clarity"].Score)

	ordered := make([]DimensionScore, 0, len(oralDimensions))
	justifications := make([]string, 0, len(oralDimensions))
	for _, dimension := range oralDimensions {
		ordered = append(ordered, scores[dimension])
		justifications = append(justifications, scores[dimension].Justification)
	}

	detail.Feedback = s.engine.ComposeFeedback(ctx, feedbackSystemPrompt,
		openFeedbackPrompt(pair.Question, pair.Response, ordered...),
		joinFeedback(justifications...))
	return detail
}

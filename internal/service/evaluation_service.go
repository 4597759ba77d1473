package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/observability"
	"github.com/noah-isme/gema-eval-api/internal/repository"
)

// ErrInvalidSubmission indicates the evaluation request failed validation.
var ErrInvalidSubmission = errors.New("invalid submission")

// EvaluationService grades completed coding interviews.
type EvaluationService interface {
	Evaluate(ctx context.Context, req dto.EvaluateInterviewRequest) (dto.EvaluationReport, error)
	EvaluateBatch(ctx context.Context, req dto.BatchEvaluateRequest) (dto.BatchEvaluationResponse, error)
	GetReport(ctx context.Context, key string) (json.RawMessage, error)
}

// EvaluationConfig bounds concurrent candidate flows.
type EvaluationConfig struct {
	MaxConcurrent int
}

type evaluationService struct {
	questions  repository.QuestionRepository
	reports    ReportService
	evaluators map[models.QuestionType]QuestionEvaluator
	progress   ProgressPublisher
	validator  *validator.Validate
	logger     zerolog.Logger
	tracer     trace.Tracer
	config     EvaluationConfig
	now        func() time.Time
}

// NewEvaluationService wires the orchestrator. progress may be nil.
func NewEvaluationService(questions repository.QuestionRepository, reports ReportService, evaluators []QuestionEvaluator, progress ProgressPublisher, validate *validator.Validate, logger zerolog.Logger, cfg EvaluationConfig) EvaluationService {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if progress == nil {
		progress = nopProgress{}
	}

	byType := make(map[models.QuestionType]QuestionEvaluator, len(evaluators))
	for _, evaluator := range evaluators {
		byType[evaluator.Type()] = evaluator
	}

	return &evaluationService{
		questions:  questions,
		reports:    reports,
		evaluators: byType,
		progress:   progress,
		validator:  validate,
		logger:     logger.With().Str("component", "evaluation_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-eval-api/internal/service/evaluation"),
		config:     cfg,
		now:        time.Now,
	}
}

// Evaluate grades every submission in order and persists the report. When ctx
// is cancelled between questions the partial report is returned with the
// context error and nothing is stored.
func (s *evaluationService) Evaluate(ctx context.Context, req dto.EvaluateInterviewRequest) (dto.EvaluationReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.EvaluationReport{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	start := s.now()
	key := ReportKey(codingReportPrefix, req.CandidateName, req.InterviewDate)

	ctx, span := s.tracer.Start(ctx, "evaluation.evaluate", trace.WithAttributes(
		attribute.String("evaluation.report_key", key),
		attribute.Int("evaluation.questions", len(req.Submissions)),
	))
	defer span.End()

	logger := s.logger.With().Str("candidate", req.CandidateName).Str("report_key", key).Logger()

	ids := make([]string, 0, len(req.Submissions))
	for _, sub := range req.Submissions {
		ids = append(ids, sub.QuestionID)
	}
	specs, err := s.questions.GetByIDs(ctx, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load question specs")
		return dto.EvaluationReport{}, fmt.Errorf("load question specs: %w", err)
	}

	report := dto.EvaluationReport{
		Key:           key,
		Track:         dto.TrackCoding,
		CandidateName: req.CandidateName,
		InterviewDate: req.InterviewDate,
		Questions:     make([]dto.QuestionEvaluation, 0, len(req.Submissions)),
	}

	for i, sub := range req.Submissions {
		if err := ctx.Err(); err != nil {
			return s.abort(report, logger, err)
		}

		event := dto.EvaluationProgressEvent{
			ReportKey:     key,
			CandidateName: req.CandidateName,
			QuestionID:    sub.QuestionID,
			Position:      i + 1,
			Total:         len(req.Submissions),
		}
		spec, found := specs[sub.QuestionID]

		evaluation, err := s.evaluateQuestion(ctx, event, spec, found, sub)
		if err != nil {
			return s.abort(report, logger, err)
		}
		report.Questions = append(report.Questions, evaluation)
	}

	s.finalize(&report)

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
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist report")
		observability.Evaluations().WithLabelValues(dto.TrackCoding, "persistence_failed").Inc()
		return report, err
	}

	observability.Evaluations().WithLabelValues(dto.TrackCoding, "completed").Inc()
	observability.EvaluationDuration().WithLabelValues(dto.TrackCoding).Observe(s.now().Sub(start).Seconds())
	logger.Info().
		Float64("overall_score", report.OverallScore).
		Int("low_confidence", report.LowConfidenceCount).
		Msg("coding interview evaluated")

	return report, nil
}

func (s *evaluationService) abort(report dto.EvaluationReport, logger zerolog.Logger, err error) (dto.EvaluationReport, error) {
	s.finalize(&report)
	observability.Evaluations().WithLabelValues(dto.TrackCoding, "cancelled").Inc()
	logger.Warn().Err(err).Int("evaluated", len(report.Questions)).Msg("evaluation stopped before completion")
	return report, err
}

func (s *evaluationService) finalize(report *dto.EvaluationReport) {
	report.OverallScore = meanScore(report.Questions)
	report.LowConfidenceCount = countLowConfidence(report.Questions)
	report.OverallFeedback = overallFeedback(report.OverallScore, report.LowConfidenceCount)
	report.EvaluationTimestamp = s.now().UTC()
}

// evaluateQuestion contains every per-question failure. It only returns an
// error when ctx is done.
func (s *evaluationService) evaluateQuestion(ctx context.Context, event dto.EvaluationProgressEvent, spec models.QuestionSpec, found bool, sub dto.CandidateSubmission) (dto.QuestionEvaluation, error) {
	ctx, span := s.tracer.Start(ctx, "evaluation.question", trace.WithAttributes(
		attribute.String("question.id", sub.QuestionID),
		attribute.String("question.type", string(spec.Type)),
	))
	defer span.End()

	logger := s.logger.With().Str("question_id", sub.QuestionID).Int("position", event.Position).Logger()
	s.stage(ctx, event, StagePending)

	if !found {
		spec = models.QuestionSpec{ID: sub.QuestionID, Title: sub.QuestionID}
		return s.degrade(ctx, event, spec, fmt.Errorf("%w: %s", ErrQuestionNotFound, sub.QuestionID), logger), nil
	}

	evaluator, ok := s.evaluators[spec.Type]
	if !ok {
		return s.degrade(ctx, event, spec, fmt.Errorf("no evaluator for question type %q", spec.Type), logger), nil
	}

	submission := Submission{CandidateSubmission: sub, Parsed: ParseResponse(sub.ResponseText, spec.Type)}
	s.stage(ctx, event, StageParsed)

	outcome, err := runEvaluator(ctx, evaluator, spec, submission)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dto.QuestionEvaluation{}, ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluator failed")
		return s.degrade(ctx, event, spec, err, logger), nil
	}

	if outcome.Executed {
		s.stage(ctx, event, StageExecuted)
	} else {
		s.stage(ctx, event, StageExecutionSkipped)
	}
	s.stage(ctx, event, StageJudged)
	s.stage(ctx, event, StageRecorded)

	label := "ok"
	if outcome.Evaluation.LowConfidence {
		label = "low_confidence"
	}
	observability.QuestionEvaluations().WithLabelValues(string(spec.Type), label).Inc()
	logger.Info().
		Str("type", string(spec.Type)).
		Float64("score", outcome.Evaluation.Score).
		Bool("low_confidence", outcome.Evaluation.LowConfidence).
		Msg("question evaluated")

	return outcome.Evaluation, nil
}

func (s *evaluationService) degrade(ctx context.Context, event dto.EvaluationProgressEvent, spec models.QuestionSpec, cause error, logger zerolog.Logger) dto.QuestionEvaluation {
	logger.Error().Err(cause).Msg("question evaluation degraded")
	observability.QuestionEvaluations().WithLabelValues(string(spec.Type), "degraded").Inc()
	s.stage(ctx, event, StageRecorded)
	return degradedEvaluation(spec, cause)
}

func (s *evaluationService) stage(ctx context.Context, event dto.EvaluationProgressEvent, stage string) {
	event.Stage = stage
	event.Timestamp = s.now().UTC()
	s.progress.Publish(ctx, event)
}

func runEvaluator(ctx context.Context, evaluator QuestionEvaluator, spec models.QuestionSpec, submission Submission) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	return evaluator.Evaluate(ctx, spec, submission)
}

// EvaluateBatch runs each interview as an independent flow. Failures are
// reported per interview and never cancel the others.
func (s *evaluationService) EvaluateBatch(ctx context.Context, req dto.BatchEvaluateRequest) (dto.BatchEvaluationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.BatchEvaluationResponse{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	reports := make([]*dto.EvaluationReport, len(req.Interviews))
	failures := make([]*dto.BatchFailure, len(req.Interviews))

	var group errgroup.Group
	group.SetLimit(s.config.MaxConcurrent)

	for i, interview := range req.Interviews {
		i, interview := i, interview
		group.Go(func() error {
			report, err := s.Evaluate(ctx, interview)
			if err != nil {
				failures[i] = &dto.BatchFailure{Index: i, CandidateName: interview.CandidateName, Error: err.Error()}
				return nil
			}
			reports[i] = &report
			return nil
		})
	}
	_ = group.Wait()

	response := dto.BatchEvaluationResponse{
		Reports:  make([]dto.EvaluationReport, 0, len(reports)),
		Failures: make([]dto.BatchFailure, 0),
	}
	for i := range req.Interviews {
		if reports[i] != nil {
			response.Reports = append(response.Reports, *reports[i])
		}
		if failures[i] != nil {
			response.Failures = append(response.Failures, *failures[i])
		}
	}

	if err := ctx.Err(); err != nil {
		return response, err
	}
	return response, nil
}

func (s *evaluationService) GetReport(ctx context.Context, key string) (json.RawMessage, error) {
	return s.reports.Get(ctx, key)
}

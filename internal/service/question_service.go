package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/repository"
)

// ErrQuestionNotFound indicates the question spec does not exist.
var ErrQuestionNotFound = errors.New("question not found")

// QuestionService stores question specs supplied by the content generator.
type QuestionService interface {
	Upsert(ctx context.Context, payload dto.QuestionSpecRequest) (dto.QuestionSpecResponse, error)
	Get(ctx context.Context, id string) (dto.QuestionSpecResponse, error)
}

type questionService struct {
	repo      repository.QuestionRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewQuestionService constructs the question service.
func NewQuestionService(repo repository.QuestionRepository, validate *validator.Validate, logger zerolog.Logger) QuestionService {
	return &questionService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "question_service").Logger(),
	}
}

func (s *questionService) Upsert(ctx context.Context, payload dto.QuestionSpecRequest) (dto.QuestionSpecResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.QuestionSpecResponse{}, err
	}

	spec := payload.ToModel()
	if err := s.repo.Upsert(ctx, &spec); err != nil {
		return dto.QuestionSpecResponse{}, err
	}

	if len(spec.TestCases) > 0 {
		if err := s.repo.ReplaceTestCases(ctx, spec.ID, spec.TestCases); err != nil {
			return dto.QuestionSpecResponse{}, err
		}
	}

	stored, err := s.repo.GetByID(ctx, spec.ID)
	if err != nil {
		return dto.QuestionSpecResponse{}, err
	}

	s.logger.Info().Str("question_id", spec.ID).Str("type", string(spec.Type)).Msg("question spec stored")
	return dto.NewQuestionSpecResponse(stored), nil
}

func (s *questionService) Get(ctx context.Context, id string) (dto.QuestionSpecResponse, error) {
	spec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.QuestionSpecResponse{}, ErrQuestionNotFound
		}
		return dto.QuestionSpecResponse{}, err
	}
	return dto.NewQuestionSpecResponse(spec), nil
}

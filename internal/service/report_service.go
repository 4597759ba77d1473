package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/repository"
)

// ErrReportPersistence indicates a finished report could not be stored.
var ErrReportPersistence = errors.New("report persistence failed")

// ErrReportNotFound indicates no report exists under the requested key.
var ErrReportNotFound = errors.New("report not found")

// ReportRecord is a finished report ready to be stored.
type ReportRecord struct {
	Key                string
	Track              string
	CandidateName      string
	InterviewDate      string
	OverallScore       float64
	LowConfidenceCount int
	EvaluatedAt        time.Time
	Report             interface{}
}

// ReportService stores report snapshots and serves them through a read-through cache.
type ReportService interface {
	Save(ctx context.Context, record ReportRecord) error
	Get(ctx context.Context, key string) (json.RawMessage, error)
}

type reportService struct {
	repo     repository.ReportRepository
	cache    *redis.Client
	cacheTTL time.Duration
	logger   zerolog.Logger
}

// NewReportService constructs the report service. cache may be nil.
func NewReportService(repo repository.ReportRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) ReportService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &reportService{
		repo:     repo,
		cache:    cache,
		cacheTTL: ttl,
		logger:   logger.With().Str("component", "report_service").Logger(),
	}
}

func reportCacheKey(key string) string {
	return "report:" + key
}

func (s *reportService) Save(ctx context.Context, record ReportRecord) error {
	payload, err := json.Marshal(record.Report)
	if err != nil {
		return fmt.Errorf("%w: encode report: %v", ErrReportPersistence, err)
	}

	model := models.EvaluationReport{
		Key:                record.Key,
		Track:              record.Track,
		CandidateName:      record.CandidateName,
		InterviewDate:      record.InterviewDate,
		OverallScore:       record.OverallScore,
		LowConfidenceCount: record.LowConfidenceCount,
		Payload:            datatypes.JSON(payload),
		EvaluatedAt:        record.EvaluatedAt,
	}
	if err := s.repo.Save(ctx, &model); err != nil {
		return fmt.Errorf("%w: %v", ErrReportPersistence, err)
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, reportCacheKey(record.Key)).Err(); err != nil {
			s.logger.Warn().Err(err).Str("report_key", record.Key).Msg("failed to invalidate report cache")
		}
	}

	s.logger.Info().
		Str("report_key", record.Key).
		Str("track", record.Track).
		Float64("overall_score", record.OverallScore).
		Msg("report stored")
	return nil
}

func (s *reportService) Get(ctx context.Context, key string) (json.RawMessage, error) {
	cacheKey := reportCacheKey(key)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			s.logger.Debug().Str("report_key", key).Msg("report cache hit")
			return json.RawMessage(cached), nil
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read report cache")
		}
	}

	report, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrReportNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}

	payload := json.RawMessage(report.Payload)
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, []byte(payload), s.cacheTTL).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to store report cache")
		}
	}
	return payload, nil
}

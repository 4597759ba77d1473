package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

// ErrReportNotFound is returned when no report is stored under a key.
var ErrReportNotFound = errors.New("report not found")

// ReportRepository stores report snapshots under deterministic keys.
// Saving an existing key replaces the previous snapshot.
type ReportRepository interface {
	Save(ctx context.Context, report *models.EvaluationReport) error
	GetByKey(ctx context.Context, key string) (models.EvaluationReport, error)
}

// NewReportRepository constructs a gorm backed report repository.
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

type reportRepository struct {
	db *gorm.DB
}

func (r *reportRepository) Save(ctx context.Context, report *models.EvaluationReport) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "report_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"track", "candidate_name", "interview_date", "overall_score",
			"low_confidence_count", "payload", "evaluated_at", "updated_at",
		}),
	}).Create(report).Error
}

func (r *reportRepository) GetByKey(ctx context.Context, key string) (models.EvaluationReport, error) {
	var report models.EvaluationReport
	err := r.db.WithContext(ctx).First(&report, "report_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.EvaluationReport{}, ErrReportNotFound
	}
	return report, err
}

package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

// QuestionRepository persists question specs and their test cases.
type QuestionRepository interface {
	Upsert(ctx context.Context, spec *models.QuestionSpec) error
	GetByID(ctx context.Context, id string) (models.QuestionSpec, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]models.QuestionSpec, error)
	ReplaceTestCases(ctx context.Context, questionID string, cases []models.TestCase) error
	ListTestCases(ctx context.Context, questionID string) ([]models.TestCase, error)
}

// NewQuestionRepository constructs a gorm backed question repository.
func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

type questionRepository struct {
	db *gorm.DB
}

func (r *questionRepository) Upsert(ctx context.Context, spec *models.QuestionSpec) error {
	return r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"type", "title", "language", "prompt", "buggy_code", "working_code",
				"requirements", "expected_output", "answer_key", "reference_answer", "updated_at",
			}),
		}).
		Create(spec).Error
}

func orderedTestCases(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *questionRepository) GetByID(ctx context.Context, id string) (models.QuestionSpec, error) {
	var spec models.QuestionSpec
	err := r.db.WithContext(ctx).
		Preload("TestCases", orderedTestCases).
		First(&spec, "id = ?", id).Error
	return spec, err
}

func (r *questionRepository) GetByIDs(ctx context.Context, ids []string) (map[string]models.QuestionSpec, error) {
	result := make(map[string]models.QuestionSpec, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var specs []models.QuestionSpec
	if err := r.db.WithContext(ctx).
		Preload("TestCases", orderedTestCases).
		Where("id IN ?", ids).
		Find(&specs).Error; err != nil {
		return nil, err
	}

	for _, spec := range specs {
		result[spec.ID] = spec
	}
	return result, nil
}

func (r *questionRepository) ReplaceTestCases(ctx context.Context, questionID string, cases []models.TestCase) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("question_id = ?", questionID).Delete(&models.TestCase{}).Error; err != nil {
			return err
		}
		if len(cases) == 0 {
			return nil
		}

		rows := make([]models.TestCase, len(cases))
		for i, tc := range cases {
			tc.ID = 0
			tc.QuestionID = questionID
			tc.Position = i
			rows[i] = tc
		}
		return tx.Create(&rows).Error
	})
}

func (r *questionRepository) ListTestCases(ctx context.Context, questionID string) ([]models.TestCase, error) {
	var cases []models.TestCase
	err := r.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Order("position ASC").
		Find(&cases).Error
	return cases, err
}

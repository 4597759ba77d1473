package models

import (
	"time"

	"gorm.io/datatypes"
)

// QuestionType enumerates the interview question kinds the evaluator understands.
type QuestionType string

const (
	QuestionTypeDebug    QuestionType = "debug"
	QuestionTypeExplain  QuestionType = "explain"
	QuestionTypeDBSchema QuestionType = "db_schema"
	QuestionTypeOpen     QuestionType = "open"
	QuestionTypeQCM      QuestionType = "qcm"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeDebug, QuestionTypeExplain, QuestionTypeDBSchema, QuestionTypeOpen, QuestionTypeQCM:
		return true
	}
	return false
}

// QuestionSpec is a question as produced by the upstream generator.
type QuestionSpec struct {
	ID              string                      `gorm:"primaryKey;size:64" json:"id"`
	Type            QuestionType                `gorm:"size:32;not null" json:"type"`
	Title           string                      `gorm:"size:255" json:"title"`
	Language        string                      `gorm:"size:32" json:"language"`
	Prompt          string                      `gorm:"type:text" json:"prompt"`
	BuggyCode       string                      `gorm:"type:text" json:"buggy_code"`
	WorkingCode     string                      `gorm:"type:text" json:"working_code"`
	Requirements    datatypes.JSONSlice[string] `json:"requirements"`
	ExpectedOutput  string                      `gorm:"type:text" json:"expected_output"`
	AnswerKey       datatypes.JSONSlice[string] `json:"answer_key"`
	ReferenceAnswer string                      `gorm:"type:text" json:"reference_answer"`
	TestCases       []TestCase                  `gorm:"foreignKey:QuestionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"test_cases"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

// TestCase is a stored stdin/stdout expectation for a question.
type TestCase struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	QuestionID     string    `gorm:"size:64;not null;index:idx_test_case_question_position,priority:1" json:"question_id"`
	Position       int       `gorm:"not null;index:idx_test_case_question_position,priority:2" json:"position"`
	Input          string    `gorm:"type:text" json:"input"`
	ExpectedOutput string    `gorm:"type:text" json:"expected_output"`
	Description    string    `gorm:"type:text" json:"description"`
	Difficulty     string    `gorm:"size:16" json:"difficulty"`
	CreatedAt      time.Time `json:"created_at"`
}

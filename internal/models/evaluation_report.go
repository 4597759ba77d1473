package models

import (
	"time"

	"gorm.io/datatypes"
)

// EvaluationReport stores the latest snapshot of a candidate's report under a deterministic key.
type EvaluationReport struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Key                string         `gorm:"column:report_key;size:255;uniqueIndex;not null" json:"report_key"`
	Track              string         `gorm:"size:32;not null" json:"track"`
	CandidateName      string         `gorm:"size:255;not null" json:"candidate_name"`
	InterviewDate      string         `gorm:"size:32;not null" json:"interview_date"`
	OverallScore       float64        `gorm:"not null" json:"overall_score"`
	LowConfidenceCount int            `json:"low_confidence_count"`
	Payload            datatypes.JSON `json:"payload"`
	EvaluatedAt        time.Time      `json:"evaluated_at"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

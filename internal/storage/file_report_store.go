package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/repository"
)

// FileReportStore writes one JSON document per report into a directory.
// The payload is written as-is so downstream readers get the report JSON directly.
type FileReportStore struct {
	dir string
}

// NewFileReportStore prepares dir for report files.
func NewFileReportStore(dir string) (*FileReportStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("report directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	return &FileReportStore{dir: dir}, nil
}

var _ repository.ReportRepository = (*FileReportStore)(nil)

// Save atomically replaces the file for report.Key.
func (s *FileReportStore) Save(ctx context.Context, report *models.EvaluationReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(report.Key)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, report.Payload, "", "  "); err != nil {
		return fmt.Errorf("format report payload: %w", err)
	}
	buf.WriteByte('\n')

	tmp, err := os.CreateTemp(s.dir, ".report-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	return nil
}

// GetByKey reads a report file back.
func (s *FileReportStore) GetByKey(ctx context.Context, key string) (models.EvaluationReport, error) {
	if err := ctx.Err(); err != nil {
		return models.EvaluationReport{}, err
	}
	path, err := s.path(key)
	if err != nil {
		return models.EvaluationReport{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return models.EvaluationReport{}, repository.ErrReportNotFound
	}
	if err != nil {
		return models.EvaluationReport{}, fmt.Errorf("read report: %w", err)
	}

	var header struct {
		Track               string    `json:"track"`
		CandidateName       string    `json:"candidate_name"`
		InterviewDate       string    `json:"interview_date"`
		OverallScore        float64   `json:"overall_score"`
		LowConfidenceCount  int       `json:"low_confidence_count"`
		EvaluationTimestamp time.Time `json:"evaluation_timestamp"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return models.EvaluationReport{}, fmt.Errorf("decode report: %w", err)
	}

	return models.EvaluationReport{
		Key:                key,
		Track:              header.Track,
		CandidateName:      header.CandidateName,
		InterviewDate:      header.InterviewDate,
		OverallScore:       header.OverallScore,
		LowConfidenceCount: header.LowConfidenceCount,
		Payload:            datatypes.JSON(data),
		EvaluatedAt:        header.EvaluationTimestamp,
	}, nil
}

func (s *FileReportStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid report key %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

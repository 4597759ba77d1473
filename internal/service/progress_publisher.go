package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/dto"
)

// Question stages, in the order a question moves through them.
const (
	StagePending          = "pending"
	StageParsed           = "parsed"
	StageExecuted         = "executed"
	StageExecutionSkipped = "execution_skipped"
	StageJudged           = "judged"
	StageRecorded         = "recorded"
)

// MessagePublisher is satisfied by *nats.Conn.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// ProgressPublisher reports question stage transitions.
type ProgressPublisher interface {
	Publish(ctx context.Context, event dto.EvaluationProgressEvent)
}

type progressPublisher struct {
	conn    MessagePublisher
	subject string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewProgressPublisher publishes events to subject. A nil conn only logs.
func NewProgressPublisher(conn MessagePublisher, subject string, logger zerolog.Logger) ProgressPublisher {
	return &progressPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "progress_publisher").Logger(),
		now:     time.Now,
	}
}

func (p *progressPublisher) Publish(_ context.Context, event dto.EvaluationProgressEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}

	p.logger.Debug().
		Str("report_key", event.ReportKey).
		Str("question_id", event.QuestionID).
		Str("stage", event.Stage).
		Int("position", event.Position).
		Msg("question stage")

	if p.conn == nil || p.subject == "" {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to encode progress event")
		return
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		p.logger.Warn().Err(err).Str("subject", p.subject).Msg("failed to publish progress event")
	}
}

type nopProgress struct{}

func (nopProgress) Publish(context.Context, dto.EvaluationProgressEvent) {}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/observability"
)

const (
	completionQueue   = "gema-evaluators"
	drainPollInterval = 20 * time.Millisecond
)

// subscription is the part of *nats.Subscription the listener drains on shutdown.
type subscription interface {
	Drain() error
	IsValid() bool
}

// CompletionListener evaluates interviews announced on the message bus.
type CompletionListener struct {
	conn        *nats.Conn
	subject     string
	evaluations EvaluationService
	group       errgroup.Group
	drained     chan struct{}
	logger      zerolog.Logger
}

// NewCompletionListener runs at most limit evaluations at a time.
func NewCompletionListener(conn *nats.Conn, subject string, evaluations EvaluationService, limit int, logger zerolog.Logger) *CompletionListener {
	if limit <= 0 {
		limit = 1
	}
	l := &CompletionListener{
		conn:        conn,
		subject:     subject,
		evaluations: evaluations,
		logger:      logger.With().Str("component", "completion_listener").Logger(),
	}
	l.group.SetLimit(limit)
	return l
}

// Start subscribes until ctx is done. The callback blocks while all slots are
// busy, which holds back delivery.
func (l *CompletionListener) Start(ctx context.Context) error {
	if l.conn == nil || l.subject == "" {
		return errors.New("completion listener requires a nats connection and subject")
	}

	sub, err := l.conn.QueueSubscribe(l.subject, completionQueue, func(msg *nats.Msg) {
		data := msg.Data
		l.group.Go(func() error {
			l.handle(ctx, data)
			return nil
		})
	})
	if err != nil {
		return err
	}

	timeout := l.conn.Opts.DrainTimeout
	if timeout <= 0 {
		timeout = nats.DefaultDrainTimeout
	}
	l.drained = make(chan struct{})
	go l.drainOnDone(ctx, sub, timeout)

	l.logger.Info().Str("subject", l.subject).Msg("listening for completed interviews")
	return nil
}

// Wait blocks until the subscription has drained and in-flight evaluations finish.
// Callbacks delivered during the drain still schedule work, so the group is
// only waited on once no further callback can run.
func (l *CompletionListener) Wait() {
	if l.drained != nil {
		<-l.drained
	}
	_ = l.group.Wait()
}

func (l *CompletionListener) drainOnDone(ctx context.Context, sub subscription, timeout time.Duration) {
	defer close(l.drained)
	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		l.logger.Warn().Err(err).Msg("failed to drain completion subscription")
		return
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for sub.IsValid() {
		select {
		case <-ticker.C:
		case <-deadline.C:
			l.logger.Warn().Dur("timeout", timeout).Msg("completion subscription did not drain in time")
			return
		}
	}
}

func (l *CompletionListener) handle(ctx context.Context, payload []byte) {
	var req dto.EvaluateInterviewRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		observability.CompletionEvents().WithLabelValues("invalid").Inc()
		l.logger.Warn().Err(err).Msg("invalid interview completion payload")
		return
	}

	report, err := l.evaluations.Evaluate(ctx, req)
	if err != nil {
		observability.CompletionEvents().WithLabelValues("failed").Inc()
		l.logger.Error().Err(err).Str("candidate", req.CandidateName).Msg("interview evaluation failed")
		return
	}

	observability.CompletionEvents().WithLabelValues("evaluated").Inc()
	l.logger.Info().Str("report_key", report.Key).Float64("overall_score", report.OverallScore).Msg("interview evaluated from completion event")
}

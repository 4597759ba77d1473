package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	sandboxRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "requests_total",
		Help:      "Sandbox executions by language and outcome classification",
	}, []string{"language", "classification"})

	sandboxDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "request_duration_seconds",
		Help:      "Duration of sandbox executions including retries",
		Buckets:   prometheus.DefBuckets,
	}, []string{"language"})

	sandboxRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "retries_total",
		Help:      "Number of retried sandbox requests",
	}, []string{"language"})
)

const (
	DefaultCompileTimeout = 10 * time.Second
	DefaultRunTimeout     = 5 * time.Second
	DefaultMaxRetries     = 3
	DefaultBackoff        = time.Second
)

// ClientConfig groups execution client settings.
type ClientConfig struct {
	CompileTimeout time.Duration
	RunTimeout     time.Duration
	MaxRetries     int
	Backoff        time.Duration
	RuntimeTTL     time.Duration
	Logger         zerolog.Logger
}

// Client executes code through a Transport. Every outbound call, including the
// runtimes lookup, passes through the shared RateGate.
type Client struct {
	transport Transport
	gate      RateGate
	catalog   *RuntimeCatalog
	cfg       ClientConfig
	sleep     func(ctx context.Context, d time.Duration) error
	tracer    trace.Tracer
	logger    zerolog.Logger
}

// NewClient wires a client around transport and the process-wide gate.
func NewClient(transport Transport, gate RateGate, cfg ClientConfig) *Client {
	if gate == nil {
		gate = NewRateGate(DefaultMinInterval)
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = DefaultCompileTimeout
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	c := &Client{
		transport: transport,
		gate:      gate,
		cfg:       cfg,
		sleep:     sleepContext,
		tracer:    otel.Tracer("github.com/noah-isme/gema-eval-api/pkg/sandbox"),
		logger:    logger.With().Str("component", "sandbox_client").Logger(),
	}
	c.catalog = NewRuntimeCatalog(c.fetchRuntimes, cfg.RuntimeTTL)
	return c
}

func (c *Client) fetchRuntimes(ctx context.Context) ([]Runtime, error) {
	if err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}
	return c.transport.Runtimes(ctx)
}

// Execute runs code once in the sandbox, retrying transient transport failures.
// An exhausted retry budget yields a network_error result and a nil error; the
// error return is reserved for invalid requests and cancellation.
func (c *Client) Execute(parent context.Context, req ExecuteRequest) (ExecutionResult, error) {
	spec, ok := ResolveLanguage(req.Language)
	if !ok {
		return ExecutionResult{}, &ValidationError{
			Field:  "language",
			Reason: fmt.Sprintf("%q is not supported", req.Language),
			Err:    ErrUnsupportedLanguage,
		}
	}
	if strings.TrimSpace(req.Code) == "" {
		return ExecutionResult{}, &ValidationError{Field: "code", Reason: "code is empty"}
	}

	ctx, span := c.tracer.Start(parent, "sandbox.execute", trace.WithAttributes(
		attribute.String("sandbox.language", spec.Name),
	))
	defer span.End()

	compileTimeout := req.CompileTimeout
	if compileTimeout <= 0 {
		compileTimeout = c.cfg.CompileTimeout
	}
	runTimeout := req.RunTimeout
	if runTimeout <= 0 {
		runTimeout = c.cfg.RunTimeout
	}

	transportReq := TransportRequest{
		Language:       spec.Name,
		Version:        c.catalog.Version(ctx, spec.Name),
		Files:          []File{{Name: "main." + spec.Extension, Content: req.Code}},
		Stdin:          req.Stdin,
		CompileTimeout: compileTimeout,
		RunTimeout:     runTimeout,
	}

	start := time.Now()
	result, err := c.executeWithRetry(ctx, transportReq)
	sandboxDuration.WithLabelValues(spec.Name).Observe(time.Since(start).Seconds())
	sandboxRequests.WithLabelValues(spec.Name, string(result.Classification)).Inc()

	span.SetAttributes(
		attribute.String("sandbox.classification", string(result.Classification)),
		attribute.Int("sandbox.attempts", result.Attempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	if result.Classification == ClassificationNetworkError {
		span.SetStatus(codes.Error, result.Error)
	}

	return result, nil
}

func (c *Client) executeWithRetry(ctx context.Context, req TransportRequest) (ExecutionResult, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.Backoff * time.Duration(1<<(attempt-1))
			sandboxRetries.WithLabelValues(req.Language).Inc()
			c.logger.Warn().
				Err(lastErr).
				Str("language", req.Language).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("retrying sandbox request")
			if err := c.sleep(ctx, delay); err != nil {
				return networkErrorResult(req, attempts, err), err
			}
		}

		if err := c.gate.Wait(ctx); err != nil {
			return networkErrorResult(req, attempts, err), err
		}

		attempts++
		resp, err := c.transport.Execute(ctx, req)
		if err == nil {
			return classify(req, resp, attempts), nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return networkErrorResult(req, attempts, err), ctxErr
		}

		lastErr = err
		if !IsTransient(err) {
			c.logger.Error().Err(err).Str("language", req.Language).Msg("sandbox rejected request")
			return networkErrorResult(req, attempts, err), nil
		}
	}

	c.logger.Error().
		Err(lastErr).
		Str("language", req.Language).
		Int("attempt", attempts).
		Str("classification", string(ClassificationNetworkError)).
		Msg("sandbox retries exhausted")

	return networkErrorResult(req, attempts, lastErr), nil
}

func classify(req TransportRequest, resp TransportResponse, attempts int) ExecutionResult {
	result := ExecutionResult{
		Stdout:   resp.Run.Stdout,
		Stderr:   resp.Run.Stderr,
		ExitCode: resp.Run.ExitCode(),
		Language: firstNonEmpty(resp.Language, req.Language),
		Version:  firstNonEmpty(resp.Version, req.Version),
		Attempts: attempts,
	}

	if resp.Compile != nil && resp.Compile.ExitCode() != 0 {
		result.Stdout = resp.Compile.Stdout
		result.Stderr = firstNonEmpty(resp.Compile.Stderr, resp.Compile.Output)
		result.ExitCode = resp.Compile.ExitCode()
		result.Classification = ClassificationCompileError
		return result
	}

	switch {
	case resp.Run.Signal == "SIGKILL" || resp.Run.Status == "TO":
		result.Classification = ClassificationTimeout
		if result.ExitCode == 0 {
			result.ExitCode = 137
		}
	case result.ExitCode != 0:
		result.Classification = ClassificationRuntimeError
	default:
		result.Classification = ClassificationOK
		result.Success = true
	}

	return result
}

func networkErrorResult(req TransportRequest, attempts int, err error) ExecutionResult {
	result := ExecutionResult{
		ExitCode:       -1,
		Classification: ClassificationNetworkError,
		Language:       req.Language,
		Version:        req.Version,
		Attempts:       attempts,
	}
	if err != nil {
		result.Error = err.Error()
		result.Stderr = err.Error()
	}
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsValidationError reports whether err was raised before any sandbox call.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

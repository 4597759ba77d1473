package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/config"
	"github.com/noah-isme/gema-eval-api/internal/database"
	"github.com/noah-isme/gema-eval-api/internal/handler"
	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/repository"
	"github.com/noah-isme/gema-eval-api/internal/router"
	"github.com/noah-isme/gema-eval-api/internal/service"
	"github.com/noah-isme/gema-eval-api/internal/storage"
	"github.com/noah-isme/gema-eval-api/pkg/ai"
	"github.com/noah-isme/gema-eval-api/pkg/sandbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("%v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL, 5*time.Second)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			log.Fatalf("%v", err)
		}
		defer natsConn.Close()
	}

	transport, closeTransport, err := buildTransport(cfg, logger)
	if err != nil {
		log.Fatalf("failed to create sandbox transport: %v", err)
	}
	defer closeTransport()

	// One gate for every flow so the sandbox sees a single request stream.
	runner := sandbox.NewClient(transport, sandbox.NewRateGate(cfg.Sandbox.MinInterval), sandbox.ClientConfig{
		CompileTimeout: cfg.Sandbox.CompileTimeout,
		RunTimeout:     cfg.Sandbox.RunTimeout,
		MaxRetries:     cfg.Sandbox.MaxRetries,
		Backoff:        cfg.Sandbox.RetryBackoff,
		RuntimeTTL:     cfg.Sandbox.RuntimeTTL,
		Logger:         logger,
	})

	completer, err := buildCompleter(cfg, logger)
	if err != nil {
		log.Fatalf("failed to create ai client: %v", err)
	}

	engine, err := service.NewJudgmentEngine(completer, service.JudgmentConfig{
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create judgment engine: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	questionRepo := repository.NewQuestionRepository(db)
	reportRepo, err := buildReportRepository(cfg, db)
	if err != nil {
		log.Fatalf("failed to create report store: %v", err)
	}
	reportService := service.NewReportService(reportRepo, redisClient, cfg.Reports.CacheTTL, logger)

	var progress service.ProgressPublisher
	if natsConn != nil {
		progress = service.NewProgressPublisher(natsConn, cfg.ProgressSubject(), logger)
	}

	evaluationService := service.NewEvaluationService(questionRepo, reportService, []service.QuestionEvaluator{
		service.NewDebugEvaluator(runner, engine, logger),
		service.NewExplainEvaluator(engine),
		service.NewSchemaEvaluator(runner, engine, logger),
		service.NewQCMEvaluator(),
		service.NewOpenEvaluator(engine),
	}, progress, validate, logger, service.EvaluationConfig{MaxConcurrent: cfg.EvaluationMaxConcurrent})

	testCaseService, err := service.NewTestCaseService(questionRepo, completer, cfg.AI.Timeout, logger)
	if err != nil {
		log.Fatalf("failed to create test case service: %v", err)
	}

	textService := service.NewTextInterviewService(engine, reportService, service.TextWeights{
		QCM:       cfg.TextWeights.QCM,
		Technical: cfg.TextWeights.Technical,
		Grammar:   cfg.TextWeights.Grammar,
	}, validate, logger)
	oralService := service.NewOralInterviewService(engine, reportService, service.OralWeights{
		Technical: cfg.OralWeights.Technical,
		Coherence: cfg.OralWeights.Coherence,
		Relevance: cfg.OralWeights.Relevance,
		Clarity:   cfg.OralWeights.Clarity,
	}, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		ReadTimeout:  30 * time.Second,
		// Evaluations run synchronously for minutes.
		WriteTimeout: 15 * time.Minute,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		QuestionHandler:   handler.NewQuestionHandler(service.NewQuestionService(questionRepo, validate, logger), testCaseService, validate, logger),
		EvaluationHandler: handler.NewEvaluationHandler(evaluationService, validate, logger),
		InterviewHandler:  handler.NewInterviewHandler(textService, oralService, validate, logger),
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		DependencyChecks:  dependencyChecks(db, redisClient, natsConn),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var listener *service.CompletionListener
	if natsConn != nil {
		listener = service.NewCompletionListener(natsConn, cfg.CompletedSubject(), evaluationService, cfg.EvaluationMaxConcurrent, logger)
		if err := listener.Start(ctx); err != nil {
			log.Fatalf("failed to start completion listener: %v", err)
		}
	}

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(ctx, app, listener, logger)
}

func buildTransport(cfg config.Config, logger zerolog.Logger) (sandbox.Transport, func(), error) {
	if cfg.Sandbox.Backend == "docker" {
		transport, err := sandbox.NewDockerTransport(sandbox.DockerConfig{
			Host:          cfg.Sandbox.DockerHost,
			MemoryLimitMB: int64(cfg.Sandbox.CodeRunMemoryMB),
			CPUShares:     int64(cfg.Sandbox.CodeRunCPUShares),
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return transport, func() { _ = transport.Close() }, nil
	}

	transport := sandbox.NewPistonTransport(sandbox.PistonConfig{
		BaseURL:        cfg.Sandbox.PistonURL,
		RequestTimeout: cfg.Sandbox.RequestTimeout,
	})
	return transport, func() {}, nil
}

// buildCompleter returns nil when no provider is configured; every judgment
// then falls back to the neutral score.
func buildCompleter(cfg config.Config, logger zerolog.Logger) (ai.Completer, error) {
	switch cfg.AI.Provider {
	case "openai":
		if cfg.AI.OpenAIAPIKey == "" {
			logger.Warn().Msg("openai api key missing, judgments will fall back")
			return nil, nil
		}
		return ai.NewOpenAICompleter(ai.OpenAIConfig{
			APIKey:    cfg.AI.OpenAIAPIKey,
			BaseURL:   cfg.AI.OpenAIBaseURL,
			Model:     cfg.AI.Model,
			MaxTokens: cfg.AI.MaxTokens,
			Logger:    logger,
		})
	case "anthropic":
		if cfg.AI.AnthropicAPIKey == "" {
			logger.Warn().Msg("anthropic api key missing, judgments will fall back")
			return nil, nil
		}
		return ai.NewAnthropicCompleter(ai.AnthropicConfig{
			APIKey:    cfg.AI.AnthropicAPIKey,
			Model:     cfg.AI.Model,
			MaxTokens: cfg.AI.MaxTokens,
			Logger:    logger,
		})
	default:
		return nil, nil
	}
}

func buildReportRepository(cfg config.Config, db *gorm.DB) (repository.ReportRepository, error) {
	if cfg.Reports.Store == "file" {
		return storage.NewFileReportStore(cfg.Reports.Dir)
	}
	return repository.NewReportRepository(db), nil
}

func dependencyChecks(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) map[string]handler.DependencyCheck {
	checks := map[string]handler.DependencyCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	if natsConn != nil {
		checks["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
	}
	return checks
}

func waitForShutdown(ctx context.Context, app *fiber.App, listener *service.CompletionListener, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if listener != nil {
		listener.Wait()
	}

	logger.Info().Msg("server stopped")
}

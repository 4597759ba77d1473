package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-eval-api/internal/config"
	"github.com/noah-isme/gema-eval-api/internal/handler"
	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	QuestionHandler   *handler.QuestionHandler
	EvaluationHandler *handler.EvaluationHandler
	InterviewHandler  *handler.InterviewHandler
	JWTMiddleware     fiber.Handler
	DependencyChecks  map[string]handler.DependencyCheck
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.DependencyChecks))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	v2 := app.Group("/api/v2", jwtMiddleware, middleware.RequireRole(middleware.AuthRoleAdmin, middleware.AuthRoleRecruiter))
	evaluationLimit := middleware.RateLimit("evaluations", cfg.EvaluationRateLimit, time.Minute)

	if deps.QuestionHandler != nil {
		deps.QuestionHandler.Register(v2.Group("/questions"))
	}

	if deps.EvaluationHandler != nil {
		deps.EvaluationHandler.Register(v2.Group("/coding-interview/evaluations", evaluationLimit))
	}

	if deps.InterviewHandler != nil {
		deps.InterviewHandler.RegisterText(v2.Group("/text-interview/evaluations", evaluationLimit))
		deps.InterviewHandler.RegisterOral(v2.Group("/oral-interview/evaluations", evaluationLimit))
	}
}

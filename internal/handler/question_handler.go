package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/service"
	"github.com/noah-isme/gema-eval-api/internal/utils"
)

// QuestionHandler exposes the question bank and its test cases.
type QuestionHandler struct {
	questions service.QuestionService
	testCases service.TestCaseService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewQuestionHandler constructs the handler.
func NewQuestionHandler(questions service.QuestionService, testCases service.TestCaseService, validator *validator.Validate, logger zerolog.Logger) *QuestionHandler {
	return &QuestionHandler{
		questions: questions,
		testCases: testCases,
		validator: validator,
		logger:    logger.With().Str("component", "question_handler").Logger(),
	}
}

// Register wires the handler endpoints into the router group. Writes to the
// question bank are reserved for admins.
func (h *QuestionHandler) Register(router fiber.Router) {
	adminOnly := middleware.AuthOptions{Role: middleware.AuthRoleAdmin}

	router.Put("", middleware.WithAuth(h.upsert, adminOnly))
	router.Get("/:id", h.get)
	router.Post("/:id/test-cases", middleware.WithAuth(h.generateTestCases, adminOnly))
	router.Get("/:id/test-cases", h.listTestCases)
}

func (h *QuestionHandler) upsert(c *fiber.Ctx) error {
	var payload dto.QuestionSpecRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return handleError(c, h.logger, err)
	}

	response, err := h.questions.Upsert(c.UserContext(), payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "question stored", response)
}

func (h *QuestionHandler) get(c *fiber.Ctx) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	response, err := h.questions.Get(c.UserContext(), id)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "question retrieved", response)
}

func (h *QuestionHandler) generateTestCases(c *fiber.Ctx) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	cases, err := h.testCases.Generate(c.UserContext(), id)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	requestLogger(h.logger, c).Info().Str("question_id", id).Int("count", len(cases)).Msg("test cases regenerated")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "test cases generated", dto.NewTestCaseResponses(cases))
}

func (h *QuestionHandler) listTestCases(c *fiber.Ctx) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	cases, err := h.testCases.List(c.UserContext(), id)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "test cases retrieved", dto.NewTestCaseResponses(cases))
}

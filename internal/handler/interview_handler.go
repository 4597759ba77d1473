package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/service"
	"github.com/noah-isme/gema-eval-api/internal/utils"
)

// InterviewHandler exposes the text and oral interview tracks.
type InterviewHandler struct {
	text      service.TextInterviewService
	oral      service.OralInterviewService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewInterviewHandler constructs the handler.
func NewInterviewHandler(text service.TextInterviewService, oral service.OralInterviewService, validator *validator.Validate, logger zerolog.Logger) *InterviewHandler {
	return &InterviewHandler{
		text:      text,
		oral:      oral,
		validator: validator,
		logger:    logger.With().Str("component", "interview_handler").Logger(),
	}
}

// RegisterText wires the text-track endpoints.
func (h *InterviewHandler) RegisterText(router fiber.Router) {
	router.Post("", h.evaluateText)
}

// RegisterOral wires the oral-track endpoints.
func (h *InterviewHandler) RegisterOral(router fiber.Router) {
	router.Post("", h.evaluateOral)
}

func (h *InterviewHandler) evaluateText(c *fiber.Ctx) error {
	var payload dto.TextInterviewRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return handleError(c, h.logger, err)
	}

	report, err := h.text.Evaluate(c.UserContext(), payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "text interview evaluated", report)
}

func (h *InterviewHandler) evaluateOral(c *fiber.Ctx) error {
	var payload dto.OralInterviewRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return handleError(c, h.logger, err)
	}

	report, err := h.oral.Evaluate(c.UserContext(), payload)
	if err != nil {
		return handleError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "oral interview evaluated", report)
}

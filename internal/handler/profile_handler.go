package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/edugrade-api/internal/dto"
	"github.com/noah-isme/edugrade-api/internal/middleware"
	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/service"
	"github.com/noah-isme/edugrade-api/internal/utils"
)

// ProfileHandler exposes the caller's identity and profile provisioning.
type ProfileHandler struct {
	service service.ProfileService
	logger  zerolog.Logger
}

// NewProfileHandler constructs a profile handler. service may be nil in demo mode.
func NewProfileHandler(service service.ProfileService, logger zerolog.Logger) *ProfileHandler {
	return &ProfileHandler{
		service: service,
		logger:  logger.With().Str("component", "profile_handler").Logger(),
	}
}

// Register binds the profile routes.
func (h *ProfileHandler) Register(router fiber.Router) {
	router.Get("/me", h.me)
	router.Post("/profiles", middleware.RequireRole(models.RoleTeacher), h.upsert)
}

func (h *ProfileHandler) me(c *fiber.Ctx) error {
	profile, ok := currentProfile(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}
	return utils.SendSuccess(c, "current profile", dto.NewProfileResponse(profile))
}

func (h *ProfileHandler) upsert(c *fiber.Ctx) error {
	if h.service == nil {
		return utils.SendError(c, fiber.StatusNotImplemented, "profiles are fixed in demo mode")
	}

	var payload dto.ProfileUpsertRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	profile, err := h.service.Upsert(requestContext(c), payload)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		logger := middleware.RequestLogger(c, h.logger)
		logger.Error().Err(err).Msg("failed to upsert profile")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to save profile")
	}

	return utils.SendSuccess(c, "profile saved", profile)
}

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

// ActivityHandler lists the review audit trail.
type ActivityHandler struct {
	service service.ActivityService
	logger  zerolog.Logger
}

func NewActivityHandler(service service.ActivityService, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		service: service,
		logger:  logger.With().Str("component", "activity_handler").Logger(),
	}
}

// Register binds the activity routes.
func (h *ActivityHandler) Register(router fiber.Router) {
	router.Get("", middleware.RequireRole(models.RoleTeacher), h.list)
}

func (h *ActivityHandler) list(c *fiber.Ctx) error {
	var filter dto.ActivityFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	result, err := h.service.List(requestContext(c), filter)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		logger := middleware.RequestLogger(c, h.logger)
		logger.Error().Err(err).Msg("failed to list activity")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load activity")
	}

	return utils.OK(c, result.Items, "review activity", utils.PageMeta{
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
	})
}

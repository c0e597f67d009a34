package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/edugrade-api/internal/middleware"
	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/service"
	"github.com/noah-isme/edugrade-api/internal/utils"
)

const defaultWeakTopicLimit = 10

// DashboardHandler exposes the student and classroom statistics.
type DashboardHandler struct {
	service service.DashboardService
	logger  zerolog.Logger
}

// NewDashboardHandler constructs a dashboard handler.
func NewDashboardHandler(service service.DashboardService, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		service: service,
		logger:  logger.With().Str("component", "dashboard_handler").Logger(),
	}
}

// Register binds the dashboard routes.
func (h *DashboardHandler) Register(router fiber.Router) {
	teacherOnly := middleware.RequireRole(models.RoleTeacher)

	router.Get("/student", middleware.RequireRole(models.RoleStudent), h.student)
	router.Get("/classroom", teacherOnly, h.classroom)
	router.Get("/weak-topics", teacherOnly, h.weakTopics)
}

func (h *DashboardHandler) student(c *fiber.Ctx) error {
	dashboard, err := h.service.StudentDashboard(requestContext(c), middleware.UserID(c))
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "student dashboard", dashboard)
}

func (h *DashboardHandler) classroom(c *fiber.Ctx) error {
	stats, err := h.service.ClassroomStats(requestContext(c))
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "classroom statistics", stats)
}

func (h *DashboardHandler) weakTopics(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil || limit < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	if limit == 0 {
		limit = defaultWeakTopicLimit
	}

	topics, err := h.service.WeakTopics(requestContext(c), limit)
	if err != nil {
		return h.internalError(c, err)
	}
	return utils.SendSuccess(c, "weak topics", topics)
}

func (h *DashboardHandler) internalError(c *fiber.Ctx, err error) error {
	logger := middleware.RequestLogger(c, h.logger)
	logger.Error().Err(err).Msg("failed to build dashboard")
	return utils.SendError(c, fiber.StatusInternalServerError, "failed to load dashboard")
}

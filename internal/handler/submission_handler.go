package handler

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/edugrade-api/internal/dto"
	"github.com/noah-isme/edugrade-api/internal/middleware"
	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/service"
	"github.com/noah-isme/edugrade-api/internal/utils"
	"github.com/noah-isme/edugrade-api/pkg/ai"
)

// SubmissionHandler manages submission endpoints.
type SubmissionHandler struct {
	workflow     service.AnalysisWorkflow
	submissions  service.SubmissionService
	reviews      service.ReviewService
	validator    *validator.Validate
	retryLimiter fiber.Handler
	logger       zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance. retryLimiter may be nil.
func NewSubmissionHandler(workflow service.AnalysisWorkflow, submissions service.SubmissionService, reviews service.ReviewService, validator *validator.Validate, retryLimiter fiber.Handler, logger zerolog.Logger) *SubmissionHandler {
	if retryLimiter == nil {
		retryLimiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &SubmissionHandler{
		workflow:     workflow,
		submissions:  submissions,
		reviews:      reviews,
		validator:    validator,
		retryLimiter: retryLimiter,
		logger:       logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	teacherOnly := middleware.RequireRole(models.RoleTeacher)

	router.Get("", h.list)
	router.Post("", middleware.RequireRole(models.RoleStudent), h.create)
	router.Get("/:id", h.get)
	router.Patch("/:id", teacherOnly, h.update)
	router.Post("/:id/retry", h.retryLimiter, h.retry)
	router.Post("/:id/approve", teacherOnly, h.approve)
	router.Post("/:id/reject", teacherOnly, h.reject)
}

// ServeFile streams a submission file stored under dir to the owning student or a teacher.
// publicBase is the URL prefix the storage backend recorded in file_url.
func (h *SubmissionHandler) ServeFile(publicBase, dir string) fiber.Handler {
	publicBase = strings.TrimRight(publicBase, "/")
	return func(c *fiber.Ctx) error {
		profile, ok := currentProfile(c)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}

		name := filepath.Base(c.Params("name"))
		if name == "." || name == ".." || name == string(filepath.Separator) {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}

		if _, err := h.submissions.GetByFileForViewer(requestContext(c), profile, publicBase+"/"+name); err != nil {
			return h.handleError(c, err)
		}

		c.Set(fiber.HeaderCacheControl, "private, no-store")
		return c.SendFile(filepath.Join(dir, name))
	}
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	profile, ok := currentProfile(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	if !profile.IsTeacher() {
		submissions, err := h.submissions.ListByStudent(requestContext(c), profile.ID)
		if err != nil {
			return h.handleError(c, err)
		}
		return utils.SendSuccess(c, "submissions retrieved", submissions)
	}

	var filter dto.SubmissionFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	submissions, err := h.submissions.ListAll(requestContext(c), filter)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", submissions)
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	profile, ok := currentProfile(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	payload := dto.SubmissionCreateRequest{
		Title:   strings.TrimSpace(c.FormValue("title")),
		Subject: strings.TrimSpace(c.FormValue("subject")),
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, service.ErrUploadMissing.Error())
	}

	submission, err := h.workflow.Submit(requestContext(c), profile, payload, file)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission accepted for analysis", submission)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	profile, ok := currentProfile(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	submission, err := h.submissions.GetForViewer(requestContext(c), profile, c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) update(c *fiber.Ctx) error {
	var payload dto.SubmissionUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.submissions.Update(requestContext(c), c.Params("id"), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission updated", submission)
}

func (h *SubmissionHandler) retry(c *fiber.Ctx) error {
	profile, ok := currentProfile(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	submission, err := h.workflow.Retry(requestContext(c), profile, c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "analysis restarted", submission)
}

func (h *SubmissionHandler) approve(c *fiber.Ctx) error {
	profile, _ := currentProfile(c)

	var payload dto.ApproveRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	submission, err := h.reviews.Approve(requestContext(c), profile, c.Params("id"), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission approved", submission)
}

func (h *SubmissionHandler) reject(c *fiber.Ctx) error {
	profile, _ := currentProfile(c)

	submission, err := h.reviews.Reject(requestContext(c), profile, c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission rejected", submission)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrProfileNotFound):
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	case errors.Is(err, service.ErrSubmissionForbidden), errors.Is(err, service.ErrReviewerNotTeacher):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, service.ErrRetryNotAllowed):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	case errors.Is(err, models.ErrScoreOutOfRange),
		errors.Is(err, service.ErrUploadMissing),
		errors.Is(err, service.ErrSubmissionInvalid):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUploadTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrUploadTypeNotAllowed):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, service.ErrWorkflowClosed):
		return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ai.ErrAnalysisFailed):
		return utils.SendError(c, fiber.StatusBadGateway, "analysis service unavailable")
	default:
		logger := middleware.RequestLogger(c, h.logger)
		logger.Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/edugrade-api/internal/dto"
	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/repository"
)

const (
	ActivitySubmissionApproved = "submission.approved"
	ActivitySubmissionRejected = "submission.rejected"
)

// ActivityEntry captures the details required to persist an audit entry.
type ActivityEntry struct {
	Actor      models.UserProfile
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]interface{}
}

// ActivityRecorder defines behaviour for recording activity logs.
type ActivityRecorder interface {
	Record(ctx context.Context, entry ActivityEntry) (dto.ActivityEntry, error)
}

// ActivityService exposes methods to query and persist the review audit trail.
type ActivityService interface {
	ActivityRecorder
	List(ctx context.Context, filter dto.ActivityFilter) (dto.ActivityListResponse, error)
}

type activityService struct {
	repo      repository.ActivityLogRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewActivityService constructs the activity log service.
func NewActivityService(repo repository.ActivityLogRepository, validate *validator.Validate, logger zerolog.Logger) ActivityService {
	return &activityService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "activity_service").Logger(),
	}
}

func (s *activityService) Record(ctx context.Context, entry ActivityEntry) (dto.ActivityEntry, error) {
	if strings.TrimSpace(entry.Action) == "" {
		return dto.ActivityEntry{}, fmt.Errorf("action is required")
	}
	if strings.TrimSpace(entry.EntityType) == "" {
		return dto.ActivityEntry{}, fmt.Errorf("entity type is required")
	}

	role := strings.ToLower(strings.TrimSpace(entry.Actor.Role))
	if role == "" {
		role = "system"
	}

	model := models.ActivityLog{
		ActorID:    entry.Actor.ID,
		ActorRole:  role,
		Action:     strings.ToLower(strings.TrimSpace(entry.Action)),
		EntityType: strings.ToLower(strings.TrimSpace(entry.EntityType)),
		EntityID:   entry.EntityID,
		Metadata:   sanitizeMetadata(entry.Metadata),
	}

	if err := s.repo.Create(ctx, &model); err != nil {
		s.logger.Error().Err(err).Str("action", model.Action).Msg("failed to persist activity log")
		return dto.ActivityEntry{}, err
	}

	return dto.NewActivityEntry(model), nil
}

func (s *activityService) List(ctx context.Context, filter dto.ActivityFilter) (dto.ActivityListResponse, error) {
	if err := s.validator.Struct(filter); err != nil {
		return dto.ActivityListResponse{}, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	entries, total, err := s.repo.List(ctx, repository.ActivityLogFilter{
		Page:     filter.Page,
		PageSize: filter.PageSize,
		ActorID:  strings.TrimSpace(filter.ActorID),
		Action:   strings.TrimSpace(filter.Action),
		EntityID: strings.TrimSpace(filter.EntityID),
	})
	if err != nil {
		return dto.ActivityListResponse{}, err
	}

	items := make([]dto.ActivityEntry, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.NewActivityEntry(entry))
	}

	return dto.ActivityListResponse{
		Items:      items,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalItems: total,
	}, nil
}

// sanitizeMetadata masks values whose keys look like personal data or credentials.
func sanitizeMetadata(metadata map[string]interface{}) datatypes.JSONMap {
	sanitized := datatypes.JSONMap{}
	for key, value := range metadata {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "email") || strings.Contains(lower, "token") {
			sanitized[key] = "***"
			continue
		}
		sanitized[key] = value
	}
	return sanitized
}

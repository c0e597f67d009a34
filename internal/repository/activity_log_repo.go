package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/edugrade-api/internal/models"
)

// ActivityLogFilter narrows the review audit trail. Empty fields match everything.
type ActivityLogFilter struct {
	Page     int
	PageSize int
	ActorID  string
	Action   string
	EntityID string
}

func (f ActivityLogFilter) scope(db *gorm.DB) *gorm.DB {
	if f.ActorID != "" {
		db = db.Where("actor_id = ?", f.ActorID)
	}
	if f.Action != "" {
		db = db.Where("action = ?", f.Action)
	}
	if f.EntityID != "" {
		db = db.Where("entity_type = ? AND entity_id = ?", models.ActivityEntitySubmission, f.EntityID)
	}
	return db
}

func (f ActivityLogFilter) window(db *gorm.DB) *gorm.DB {
	if f.PageSize <= 0 {
		return db
	}
	page := max(f.Page, 1)
	return db.Offset((page - 1) * f.PageSize).Limit(f.PageSize)
}

// ActivityLogRepository persists review decisions.
type ActivityLogRepository interface {
	Create(ctx context.Context, entry *models.ActivityLog) error
	List(ctx context.Context, filter ActivityLogFilter) ([]models.ActivityLog, int64, error)
}

type activityLogRepository struct {
	db *gorm.DB
}

// NewActivityLogRepository constructs the activity log repository.
func NewActivityLogRepository(db *gorm.DB) ActivityLogRepository {
	return &activityLogRepository{db: db}
}

func (r *activityLogRepository) Create(ctx context.Context, entry *models.ActivityLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *activityLogRepository) List(ctx context.Context, filter ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	matching := r.db.WithContext(ctx).Model(&models.ActivityLog{}).Scopes(filter.scope)

	var total int64
	if err := matching.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []models.ActivityLog{}, 0, nil
	}

	var entries []models.ActivityLog
	if err := matching.Session(&gorm.Session{}).
		Scopes(filter.window).
		Order("created_at DESC").
		Order("id DESC").
		Find(&entries).Error; err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/edugrade-api/internal/models"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 100
)

// NotificationQuery selects a window of one user's notification feed.
type NotificationQuery struct {
	UserID string
	Limit  int
	Offset int
}

// NotificationFeed is a window of notifications plus the user's total unread count.
type NotificationFeed struct {
	Items  []models.Notification
	Unread int64
}

// NotificationRepository persists the per-user analysis notifications.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	Feed(ctx context.Context, query NotificationQuery) (NotificationFeed, error)
	MarkRead(ctx context.Context, id uint, userID string) (models.Notification, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) Feed(ctx context.Context, query NotificationQuery) (NotificationFeed, error) {
	limit := query.Limit
	if limit <= 0 || limit > maxFeedLimit {
		limit = defaultFeedLimit
	}
	offset := max(query.Offset, 0)

	owned := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", query.UserID)

	var feed NotificationFeed
	if err := owned.Session(&gorm.Session{}).Where("read = ?", false).Count(&feed.Unread).Error; err != nil {
		return NotificationFeed{}, err
	}

	// id breaks ties between notifications emitted in the same instant.
	if err := owned.Session(&gorm.Session{}).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&feed.Items).Error; err != nil {
		return NotificationFeed{}, err
	}

	return feed, nil
}

// MarkRead flags the notification as read when it belongs to userID.
// Marking an already read notification is a no-op.
func (r *notificationRepository) MarkRead(ctx context.Context, id uint, userID string) (models.Notification, error) {
	var notification models.Notification
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Notification{}).
			Where("id = ? AND user_id = ? AND read = ?", id, userID, false).
			Update("read", true).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND user_id = ?", id, userID).First(&notification).Error
	})
	if err != nil {
		return models.Notification{}, err
	}
	return notification, nil
}

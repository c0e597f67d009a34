package dto

import (
	"time"

	"github.com/noah-isme/edugrade-api/internal/models"
)

// NotificationCreateRequest describes a notification to publish.
type NotificationCreateRequest struct {
	UserID       string `json:"user_id" validate:"required,max=64"`
	Kind         string `json:"kind" validate:"required,oneof=started success error"`
	Title        string `json:"title" validate:"required,max=255"`
	Message      string `json:"message" validate:"required,min=1,max=2000"`
	SubmissionID string `json:"submission_id" validate:"omitempty,max=36"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID           uint      `json:"id"`
	UserID       string    `json:"user_id"`
	Kind         string    `json:"kind"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	SubmissionID string    `json:"submission_id,omitempty"`
	Read         bool      `json:"read"`
	CreatedAt    time.Time `json:"created_at"`
}

// NotificationListResponse wraps a page of notifications with the unread counter.
type NotificationListResponse struct {
	Items  []NotificationResponse `json:"items"`
	Unread int64                  `json:"unread"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:           model.ID,
		UserID:       model.UserID,
		Kind:         model.Kind,
		Title:        model.Title,
		Message:      model.Message,
		SubmissionID: model.SubmissionID,
		Read:         model.Read,
		CreatedAt:    model.CreatedAt,
	}
}

func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

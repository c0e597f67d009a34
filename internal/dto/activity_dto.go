package dto

import (
	"time"

	"github.com/noah-isme/edugrade-api/internal/models"
)

// ActivityFilter describes query parameters for the review audit listing.
type ActivityFilter struct {
	Page     int    `query:"page" validate:"omitempty,gte=1"`
	PageSize int    `query:"page_size" validate:"omitempty,gte=1,lte=100"`
	ActorID  string `query:"actor_id" validate:"omitempty,max=64"`
	Action   string `query:"action" validate:"omitempty,oneof=submission.approved submission.rejected"`
	EntityID string `query:"entity_id" validate:"omitempty,max=64"`
}

// ActivityEntry captures a single review decision.
type ActivityEntry struct {
	ID         uint                   `json:"id"`
	ActorID    string                 `json:"actor_id"`
	ActorRole  string                 `json:"actor_role"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// ActivityListResponse wraps a page of audit entries.
type ActivityListResponse struct {
	Items      []ActivityEntry `json:"items"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalItems int64           `json:"total_items"`
}

func NewActivityEntry(model models.ActivityLog) ActivityEntry {
	return ActivityEntry{
		ID:         model.ID,
		ActorID:    model.ActorID,
		ActorRole:  model.ActorRole,
		Action:     model.Action,
		EntityType: model.EntityType,
		EntityID:   model.EntityID,
		Metadata:   map[string]interface{}(model.Metadata),
		CreatedAt:  model.CreatedAt,
	}
}

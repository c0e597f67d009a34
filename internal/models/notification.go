package models

import "time"

const (
	NotificationKindStarted = "started"
	NotificationKindSuccess = "success"
	NotificationKindError   = "error"
)

// Notification is a fire-and-forget message addressed to a single user.
type Notification struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"size:64;index" json:"user_id"`
	Kind         string    `gorm:"size:32" json:"kind"`
	Title        string    `gorm:"size:255" json:"title"`
	Message      string    `gorm:"type:text" json:"message"`
	SubmissionID string    `gorm:"size:36;index" json:"submission_id"`
	Read         bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

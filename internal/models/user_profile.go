package models

import "time"

const (
	// RoleStudent identifies learners uploading assignments.
	RoleStudent = "student"
	// RoleTeacher identifies reviewers approving analyses.
	RoleTeacher = "teacher"
)

// UserProfile is the resolved identity of an authenticated principal.
type UserProfile struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Role      string    `gorm:"size:32;not null" json:"role"`
	FullName  string    `gorm:"size:255" json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTeacher reports whether the profile carries the teacher role.
func (p UserProfile) IsTeacher() bool {
	return p.Role == RoleTeacher
}

// IsValidRole reports whether role is one of the supported roles.
func IsValidRole(role string) bool {
	return role == RoleStudent || role == RoleTeacher
}

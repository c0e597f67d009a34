package dto

import (
	"time"

	"github.com/noah-isme/edugrade-api/internal/models"
)

// ProfileUpsertRequest creates or updates a user profile.
type ProfileUpsertRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Role     string `json:"role" validate:"required,oneof=student teacher"`
	FullName string `json:"full_name" validate:"omitempty,max=255"`
}

// ProfileResponse is the public view of a user profile.
type ProfileResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

func NewProfileResponse(model models.UserProfile) ProfileResponse {
	return ProfileResponse{
		ID:        model.ID,
		Email:     model.Email,
		Role:      model.Role,
		FullName:  model.FullName,
		CreatedAt: model.CreatedAt,
	}
}

package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/edugrade-api/internal/models"
)

// ProfileRepository persists user profiles.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (models.UserProfile, error)
	Upsert(ctx context.Context, profile *models.UserProfile) error
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository constructs a profile repository.
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) GetByID(ctx context.Context, id string) (models.UserProfile, error) {
	var profile models.UserProfile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error; err != nil {
		return models.UserProfile{}, err
	}
	return profile, nil
}

func (r *profileRepository) Upsert(ctx context.Context, profile *models.UserProfile) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "role", "full_name", "updated_at"}),
	}).Create(profile).Error
}

package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/noah-isme/edugrade-api/internal/models"
)

type memorySubmissionRepository struct {
	mu sync.RWMutex
	// newest first
	records []*models.Submission
	index   map[string]*models.Submission
}

// NewMemorySubmissionRepository builds a process-local repository. Records are lost on restart.
// Missing records are reported with gorm.ErrRecordNotFound so callers handle both backends alike.
func NewMemorySubmissionRepository() SubmissionRepository {
	return &memorySubmissionRepository{
		index: make(map[string]*models.Submission),
	}
}

func (r *memorySubmissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[submission.ID]; exists {
		return fmt.Errorf("submission %s: %w", submission.ID, gorm.ErrDuplicatedKey)
	}

	stored := submission.Clone()
	r.records = append([]*models.Submission{&stored}, r.records...)
	r.index[stored.ID] = &stored
	return nil
}

func (r *memorySubmissionRepository) GetByID(ctx context.Context, id string) (models.Submission, error) {
	if err := ctx.Err(); err != nil {
		return models.Submission{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.index[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}

	return stored.Clone(), nil
}

func (r *memorySubmissionRepository) Mutate(ctx context.Context, id string, mutate SubmissionMutation) (models.Submission, error) {
	if err := ctx.Err(); err != nil {
		return models.Submission{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.index[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}

	working := stored.Clone()
	if err := mutate(&working); err != nil {
		return models.Submission{}, err
	}
	working.ID = stored.ID
	*stored = working

	return stored.Clone(), nil
}

func (r *memorySubmissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := lo.Filter(r.records, func(item *models.Submission, _ int) bool {
		if filter.StudentID != nil && item.StudentID != *filter.StudentID {
			return false
		}
		if filter.Status != nil && item.Status != *filter.Status {
			return false
		}
		if filter.Subject != nil && item.Subject != *filter.Subject {
			return false
		}
		if filter.FileURL != nil && item.FileURL != *filter.FileURL {
			return false
		}
		return true
	})

	return lo.Map(matches, func(item *models.Submission, _ int) models.Submission {
		return item.Clone()
	}), nil
}

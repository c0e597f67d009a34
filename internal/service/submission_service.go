package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/noah-isme/edugrade-api/internal/dto"
	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/observability"
	"github.com/noah-isme/edugrade-api/internal/repository"
)

// DefaultSubject is used when an upload does not name a subject.
const DefaultSubject = "Mathematics"

var (
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionForbidden indicates the viewer may not access the submission.
	ErrSubmissionForbidden = errors.New("submission belongs to another student")
	// ErrSubmissionInvalid indicates required creation fields are missing.
	ErrSubmissionInvalid = errors.New("submission is missing required fields")
)

// NewSubmissionInput captures the fields required to register an upload.
type NewSubmissionInput struct {
	StudentID   string
	StudentName string
	FileName    string
	Subject     string
	FileURL     string
	MimeType    string
}

// StatsInvalidator is notified after every successful store mutation.
type StatsInvalidator interface {
	Invalidate(ctx context.Context)
}

// SubmissionService is the submission store: creation, partial updates, lifecycle transitions and
// role-scoped listings. Every mutation goes through the repository's serialised Mutate.
type SubmissionService interface {
	Create(ctx context.Context, input NewSubmissionInput) (dto.SubmissionResponse, error)
	Get(ctx context.Context, id string) (dto.SubmissionResponse, error)
	GetForViewer(ctx context.Context, viewer models.UserProfile, id string) (dto.SubmissionResponse, error)
	GetByFileForViewer(ctx context.Context, viewer models.UserProfile, fileURL string) (dto.SubmissionResponse, error)
	Update(ctx context.Context, id string, payload dto.SubmissionUpdateRequest) (dto.SubmissionResponse, error)
	RecordAnalysisResult(ctx context.Context, id string, outcome models.AnalysisOutcome) (dto.SubmissionResponse, error)
	MarkAnalysisFailed(ctx context.Context, id, reason string) (dto.SubmissionResponse, error)
	ResetForRetry(ctx context.Context, id string) (dto.SubmissionResponse, error)
	Approve(ctx context.Context, id string, adjustedScore *int, reviewerID string) (dto.SubmissionResponse, error)
	Reject(ctx context.Context, id, reviewerID string) (dto.SubmissionResponse, error)
	ListByStudent(ctx context.Context, studentID string) ([]dto.SubmissionResponse, error)
	ListAll(ctx context.Context, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	validator   *validator.Validate
	stats       StatsInvalidator
	logger      zerolog.Logger
	now         func() time.Time
	newID       func() string
}

// NewSubmissionService constructs a SubmissionService instance. stats may be nil.
func NewSubmissionService(repo repository.SubmissionRepository, validate *validator.Validate, stats StatsInvalidator, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: repo,
		validator:   validate,
		stats:       stats,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (s *submissionService) Create(ctx context.Context, input NewSubmissionInput) (dto.SubmissionResponse, error) {
	input.StudentID = strings.TrimSpace(input.StudentID)
	input.FileName = strings.TrimSpace(input.FileName)
	input.Subject = strings.TrimSpace(input.Subject)
	if input.StudentID == "" || input.FileName == "" {
		return dto.SubmissionResponse{}, ErrSubmissionInvalid
	}
	if input.Subject == "" {
		input.Subject = DefaultSubject
	}

	submission := models.NewSubmission(s.newID(), input.StudentID, strings.TrimSpace(input.StudentName), input.FileName, input.Subject, input.FileURL, s.now().UTC())
	submission.MimeType = input.MimeType

	if err := s.submissions.Create(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, fmt.Errorf("create submission: %w", err)
	}

	observability.SubmissionTransitions().WithLabelValues(models.SubmissionStatusPending).Inc()
	s.logger.Info().Str("submission_id", submission.ID).Str("student_id", submission.StudentID).Msg("submission created")
	s.invalidate(ctx)

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) Get(ctx context.Context, id string) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, s.translate(id, err)
	}

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) GetForViewer(ctx context.Context, viewer models.UserProfile, id string) (dto.SubmissionResponse, error) {
	response, err := s.Get(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !viewer.IsTeacher() && response.StudentID != viewer.ID {
		return dto.SubmissionResponse{}, ErrSubmissionForbidden
	}
	return response, nil
}

// GetByFileForViewer resolves the submission that stored fileURL, applying the same
// ownership rule as GetForViewer.
func (s *submissionService) GetByFileForViewer(ctx context.Context, viewer models.UserProfile, fileURL string) (dto.SubmissionResponse, error) {
	fileURL = strings.TrimSpace(fileURL)
	if fileURL == "" {
		return dto.SubmissionResponse{}, ErrSubmissionNotFound
	}

	matches, err := s.submissions.List(ctx, repository.SubmissionFilter{FileURL: &fileURL})
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if len(matches) == 0 {
		return dto.SubmissionResponse{}, ErrSubmissionNotFound
	}

	response := dto.NewSubmissionResponse(matches[0])
	if !viewer.IsTeacher() && response.StudentID != viewer.ID {
		return dto.SubmissionResponse{}, ErrSubmissionForbidden
	}
	return response, nil
}

func (s *submissionService) Update(ctx context.Context, id string, payload dto.SubmissionUpdateRequest) (dto.SubmissionResponse, error) {
	payload.FileName = trimmedPtr(payload.FileName)
	payload.Subject = trimmedPtr(payload.Subject)
	payload.FileURL = trimmedPtr(payload.FileURL)
	if (payload.FileName != nil && *payload.FileName == "") || (payload.Subject != nil && *payload.Subject == "") {
		return dto.SubmissionResponse{}, fmt.Errorf("%w: file_name and subject cannot be blank", ErrSubmissionInvalid)
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}
	if payload.AIScore == nil && (payload.WeakTopics != nil || payload.Resources != nil) {
		return dto.SubmissionResponse{}, fmt.Errorf("%w: weak_topics and recommended_resources require ai_score", ErrSubmissionInvalid)
	}

	return s.mutate(ctx, id, "update", func(submission *models.Submission) error {
		now := s.now().UTC()
		if payload.FileName != nil {
			submission.FileName = *payload.FileName
		}
		if payload.Subject != nil {
			submission.Subject = *payload.Subject
		}
		if payload.FileURL != nil {
			submission.FileURL = *payload.FileURL
		}
		submission.UpdatedAt = now

		if payload.AIScore == nil {
			return nil
		}

		outcome := models.AnalysisOutcome{
			Score:      *payload.AIScore,
			WeakTopics: payload.WeakTopics,
			Resources: lo.Map(payload.Resources, func(item dto.ResourcePayload, _ int) models.Resource {
				return models.Resource{Title: item.Title, URL: item.URL, Type: item.Type}
			}),
		}
		return submission.RecordAnalysis(outcome, now)
	})
}

func (s *submissionService) RecordAnalysisResult(ctx context.Context, id string, outcome models.AnalysisOutcome) (dto.SubmissionResponse, error) {
	return s.mutate(ctx, id, "record_analysis", func(submission *models.Submission) error {
		return submission.RecordAnalysis(outcome, s.now().UTC())
	})
}

func (s *submissionService) MarkAnalysisFailed(ctx context.Context, id, reason string) (dto.SubmissionResponse, error) {
	return s.mutate(ctx, id, "mark_failed", func(submission *models.Submission) error {
		return submission.MarkAnalysisFailed(reason, s.now().UTC())
	})
}

func (s *submissionService) ResetForRetry(ctx context.Context, id string) (dto.SubmissionResponse, error) {
	return s.mutate(ctx, id, "reset_for_retry", func(submission *models.Submission) error {
		return submission.ResetForRetry(s.now().UTC())
	})
}

func (s *submissionService) Approve(ctx context.Context, id string, adjustedScore *int, reviewerID string) (dto.SubmissionResponse, error) {
	return s.mutate(ctx, id, "approve", func(submission *models.Submission) error {
		return submission.Approve(adjustedScore, reviewerID, s.now().UTC())
	})
}

func (s *submissionService) Reject(ctx context.Context, id, reviewerID string) (dto.SubmissionResponse, error) {
	return s.mutate(ctx, id, "reject", func(submission *models.Submission) error {
		return submission.Reject(reviewerID, s.now().UTC())
	})
}

func (s *submissionService) ListByStudent(ctx context.Context, studentID string) ([]dto.SubmissionResponse, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return []dto.SubmissionResponse{}, nil
	}

	submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{StudentID: &studentID})
	if err != nil {
		return nil, err
	}

	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) ListAll(ctx context.Context, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error) {
	if err := s.validator.Struct(filter); err != nil {
		return nil, err
	}

	submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{
		StudentID: trimmedOrNil(filter.StudentID),
		Status:    trimmedOrNil(filter.Status),
		Subject:   trimmedOrNil(filter.Subject),
	})
	if err != nil {
		return nil, err
	}

	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) mutate(ctx context.Context, id, operation string, change repository.SubmissionMutation) (dto.SubmissionResponse, error) {
	var before string
	updated, err := s.submissions.Mutate(ctx, id, func(submission *models.Submission) error {
		before = submission.Status
		return change(submission)
	})
	if err != nil {
		return dto.SubmissionResponse{}, s.translate(id, err)
	}

	if updated.Status != before {
		observability.SubmissionTransitions().WithLabelValues(updated.Status).Inc()
		s.logger.Info().
			Str("submission_id", id).
			Str("operation", operation).
			Str("from", before).
			Str("to", updated.Status).
			Msg("submission status changed")
	}
	s.invalidate(ctx)

	return dto.NewSubmissionResponse(updated), nil
}

func (s *submissionService) translate(id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrSubmissionNotFound, id)
	}
	return err
}

func (s *submissionService) invalidate(ctx context.Context) {
	if s.stats != nil {
		s.stats.Invalidate(ctx)
	}
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}

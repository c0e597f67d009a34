package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/edugrade-api/internal/dto"
	"github.com/noah-isme/edugrade-api/internal/models"
)

// ErrReviewerNotTeacher indicates a non-teacher attempted a review decision.
var ErrReviewerNotTeacher = errors.New("only teachers can review submissions")

// ReviewService applies teacher decisions and records them in the audit trail.
type ReviewService interface {
	Approve(ctx context.Context, reviewer models.UserProfile, submissionID string, payload dto.ApproveRequest) (dto.SubmissionResponse, error)
	Reject(ctx context.Context, reviewer models.UserProfile, submissionID string) (dto.SubmissionResponse, error)
}

type reviewService struct {
	submissions SubmissionService
	activity    ActivityRecorder
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewReviewService constructs the review service. activity may be nil.
func NewReviewService(submissions SubmissionService, activity ActivityRecorder, validate *validator.Validate, logger zerolog.Logger) ReviewService {
	return &reviewService{
		submissions: submissions,
		activity:    activity,
		validator:   validate,
		logger:      logger.With().Str("component", "review_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/edugrade-api/internal/service/review"),
	}
}

func (s *reviewService) Approve(ctx context.Context, reviewer models.UserProfile, submissionID string, payload dto.ApproveRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "review.approve", trace.WithAttributes(
		attribute.String("review.submission_id", submissionID),
		attribute.String("review.actor_id", reviewer.ID),
	))
	defer span.End()

	if !reviewer.IsTeacher() {
		return dto.SubmissionResponse{}, s.fail(span, "forbidden", ErrReviewerNotTeacher)
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, s.fail(span, "validation_failed", err)
	}

	before, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, s.fail(span, "lookup_failed", err)
	}

	updated, err := s.submissions.Approve(ctx, submissionID, payload.AdjustedScore, reviewer.ID)
	if err != nil {
		return dto.SubmissionResponse{}, s.fail(span, "approve_failed", err)
	}

	if updated.UpdatedAt.Equal(before.UpdatedAt) {
		span.SetAttributes(attribute.Bool("review.idempotent", true))
		return updated, nil
	}

	metadata := map[string]interface{}{
		"student_id": updated.StudentID,
		"subject":    updated.Subject,
	}
	if before.AIScore != nil {
		metadata["ai_score"] = *before.AIScore
	}
	if payload.AdjustedScore != nil {
		metadata["adjusted_score"] = *payload.AdjustedScore
	}
	s.audit(ctx, reviewer, ActivitySubmissionApproved, submissionID, metadata)

	if updated.AIScore != nil {
		span.SetAttributes(attribute.Int("review.score", *updated.AIScore))
	}
	return updated, nil
}

func (s *reviewService) Reject(ctx context.Context, reviewer models.UserProfile, submissionID string) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "review.reject", trace.WithAttributes(
		attribute.String("review.submission_id", submissionID),
		attribute.String("review.actor_id", reviewer.ID),
	))
	defer span.End()

	if !reviewer.IsTeacher() {
		return dto.SubmissionResponse{}, s.fail(span, "forbidden", ErrReviewerNotTeacher)
	}

	before, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, s.fail(span, "lookup_failed", err)
	}

	updated, err := s.submissions.Reject(ctx, submissionID, reviewer.ID)
	if err != nil {
		return dto.SubmissionResponse{}, s.fail(span, "reject_failed", err)
	}

	if before.Status != updated.Status {
		s.audit(ctx, reviewer, ActivitySubmissionRejected, submissionID, map[string]interface{}{
			"student_id": updated.StudentID,
			"subject":    updated.Subject,
		})
	}

	return updated, nil
}

// audit is best effort; a failed audit write never undoes the decision.
func (s *reviewService) audit(ctx context.Context, reviewer models.UserProfile, action, submissionID string, metadata map[string]interface{}) {
	if s.activity == nil {
		return
	}
	if _, err := s.activity.Record(ctx, ActivityEntry{
		Actor:      reviewer,
		Action:     action,
		EntityType: models.ActivityEntitySubmission,
		EntityID:   submissionID,
		Metadata:   metadata,
	}); err != nil {
		s.logger.Warn().Err(err).Str("submission_id", submissionID).Str("action", action).Msg("failed to record review activity")
	}
}

func (s *reviewService) fail(span trace.Span, reason string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	return err
}

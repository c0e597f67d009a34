package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	// SubmissionStatusPending indicates the submission is waiting for analysis.
	SubmissionStatusPending = "pending"
	// SubmissionStatusAnalyzed indicates the analyzer produced a score awaiting teacher review.
	SubmissionStatusAnalyzed = "analyzed"
	// SubmissionStatusApproved indicates a teacher accepted the analysis.
	SubmissionStatusApproved = "approved"
	// SubmissionStatusRejected indicates a teacher rejected the analysis.
	SubmissionStatusRejected = "rejected"
	// SubmissionStatusFailed indicates the last analysis attempt failed and may be retried.
	SubmissionStatusFailed = "failed"
)

const (
	ResourceTypeVideo    = "video"
	ResourceTypeArticle  = "article"
	ResourceTypeExercise = "exercise"
	ResourceTypeTutorial = "tutorial"
)

var (
	// ErrInvalidTransition indicates the requested lifecycle change is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid submission status transition")
	// ErrScoreOutOfRange indicates a score outside the 0-100 range.
	ErrScoreOutOfRange = errors.New("score must be between 0 and 100")
)

// Resource is a study recommendation attached to an analyzed submission.
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

// AnalysisOutcome carries the evaluation produced for a submission.
type AnalysisOutcome struct {
	Score      int
	WeakTopics []string
	Resources  []Resource
}

// Submission represents an uploaded assignment and its evaluation state.
type Submission struct {
	ID                   string                        `gorm:"primaryKey;size:36" json:"id"`
	StudentID            string                        `gorm:"size:64;index;not null" json:"student_id"`
	StudentName          string                        `gorm:"size:255" json:"student_name"`
	FileName             string                        `gorm:"size:255;not null" json:"file_name"`
	FileURL              string                        `gorm:"size:512" json:"file_url"`
	MimeType             string                        `gorm:"size:128" json:"mime_type"`
	Subject              string                        `gorm:"size:128;index" json:"subject"`
	Status               string                        `gorm:"size:32;index;not null" json:"status"`
	AIScore              *int                          `json:"ai_score"`
	WeakTopics           datatypes.JSONSlice[string]   `json:"weak_topics"`
	RecommendedResources datatypes.JSONSlice[Resource] `json:"recommended_resources"`
	TeacherApproved      bool                          `gorm:"not null;default:false" json:"teacher_approved"`
	LastError            string                        `gorm:"type:text" json:"last_error"`
	AnalysisAttempts     int                           `gorm:"not null;default:0" json:"analysis_attempts"`
	ReviewedBy           string                        `gorm:"size:64" json:"reviewed_by"`
	ReviewedAt           *time.Time                    `json:"reviewed_at"`
	CreatedAt            time.Time                     `gorm:"index" json:"created_at"`
	UpdatedAt            time.Time                     `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// NewSubmission builds a pending submission with empty evaluation fields.
func NewSubmission(id, studentID, studentName, fileName, subject, fileURL string, now time.Time) Submission {
	return Submission{
		ID:                   id,
		StudentID:            studentID,
		StudentName:          studentName,
		FileName:             fileName,
		FileURL:              fileURL,
		Subject:              subject,
		Status:               SubmissionStatusPending,
		WeakTopics:           datatypes.JSONSlice[string]{},
		RecommendedResources: datatypes.JSONSlice[Resource]{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// IsTerminal reports whether no further lifecycle transition is possible.
func (s Submission) IsTerminal() bool {
	return s.Status == SubmissionStatusApproved || s.Status == SubmissionStatusRejected
}

// AwaitingReview reports whether a teacher decision is outstanding.
func (s Submission) AwaitingReview() bool {
	return s.Status == SubmissionStatusAnalyzed && !s.TeacherApproved
}

// RecordAnalysis applies an analysis outcome, moving pending to analyzed.
func (s *Submission) RecordAnalysis(outcome AnalysisOutcome, now time.Time) error {
	if s.Status != SubmissionStatusPending {
		return fmt.Errorf("record analysis on %s submission: %w", s.Status, ErrInvalidTransition)
	}
	if err := ValidateScore(outcome.Score); err != nil {
		return err
	}

	score := outcome.Score
	s.AIScore = &score
	s.WeakTopics = normalizeTopics(outcome.WeakTopics)
	s.RecommendedResources = append(datatypes.JSONSlice[Resource]{}, outcome.Resources...)
	s.Status = SubmissionStatusAnalyzed
	s.LastError = ""
	s.AnalysisAttempts++
	s.UpdatedAt = now
	return nil
}

// MarkAnalysisFailed moves a pending submission to failed and keeps the reason for display.
func (s *Submission) MarkAnalysisFailed(reason string, now time.Time) error {
	if s.Status != SubmissionStatusPending {
		return fmt.Errorf("mark failed on %s submission: %w", s.Status, ErrInvalidTransition)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "analysis failed"
	}

	s.Status = SubmissionStatusFailed
	s.AIScore = nil
	s.WeakTopics = datatypes.JSONSlice[string]{}
	s.RecommendedResources = datatypes.JSONSlice[Resource]{}
	s.LastError = reason
	s.AnalysisAttempts++
	s.UpdatedAt = now
	return nil
}

// ResetForRetry moves a failed submission back to pending.
func (s *Submission) ResetForRetry(now time.Time) error {
	if s.Status != SubmissionStatusFailed {
		return fmt.Errorf("retry on %s submission: %w", s.Status, ErrInvalidTransition)
	}

	s.Status = SubmissionStatusPending
	s.LastError = ""
	s.UpdatedAt = now
	return nil
}

// Approve confirms the analysis. Approving twice is a no-op unless a new score is supplied.
func (s *Submission) Approve(adjustedScore *int, reviewer string, now time.Time) error {
	if s.Status != SubmissionStatusAnalyzed && s.Status != SubmissionStatusApproved {
		return fmt.Errorf("approve %s submission: %w", s.Status, ErrInvalidTransition)
	}
	if adjustedScore != nil {
		if err := ValidateScore(*adjustedScore); err != nil {
			return err
		}
	}

	alreadyApproved := s.Status == SubmissionStatusApproved
	sameScore := adjustedScore == nil || (s.AIScore != nil && *s.AIScore == *adjustedScore)
	if alreadyApproved && sameScore {
		return nil
	}

	if adjustedScore != nil {
		score := *adjustedScore
		s.AIScore = &score
	}
	s.Status = SubmissionStatusApproved
	s.TeacherApproved = true
	s.markReviewed(reviewer, now)
	return nil
}

// Reject declines the analysis. Rejecting twice is a no-op.
func (s *Submission) Reject(reviewer string, now time.Time) error {
	switch s.Status {
	case SubmissionStatusRejected:
		return nil
	case SubmissionStatusAnalyzed:
	default:
		return fmt.Errorf("reject %s submission: %w", s.Status, ErrInvalidTransition)
	}

	s.Status = SubmissionStatusRejected
	s.TeacherApproved = false
	s.markReviewed(reviewer, now)
	return nil
}

func (s *Submission) markReviewed(reviewer string, now time.Time) {
	reviewedAt := now
	s.ReviewedAt = &reviewedAt
	s.ReviewedBy = reviewer
	s.UpdatedAt = now
}

// ValidateScore ensures a score lies in the accepted range.
func ValidateScore(score int) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("%w: got %d", ErrScoreOutOfRange, score)
	}
	return nil
}

// IsValidResourceType reports whether the resource type is part of the known catalogue.
func IsValidResourceType(kind string) bool {
	switch kind {
	case ResourceTypeVideo, ResourceTypeArticle, ResourceTypeExercise, ResourceTypeTutorial:
		return true
	default:
		return false
	}
}

func normalizeTopics(topics []string) datatypes.JSONSlice[string] {
	seen := make(map[string]struct{}, len(topics))
	out := make(datatypes.JSONSlice[string], 0, len(topics))
	for _, topic := range topics {
		trimmed := strings.TrimSpace(topic)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// Clone returns a copy that shares no mutable state with the receiver.
func (s Submission) Clone() Submission {
	clone := s
	if s.AIScore != nil {
		score := *s.AIScore
		clone.AIScore = &score
	}
	if s.ReviewedAt != nil {
		reviewedAt := *s.ReviewedAt
		clone.ReviewedAt = &reviewedAt
	}
	clone.WeakTopics = append(datatypes.JSONSlice[string]{}, s.WeakTopics...)
	clone.RecommendedResources = append(datatypes.JSONSlice[Resource]{}, s.RecommendedResources...)
	return clone
}

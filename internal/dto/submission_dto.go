package dto

import (
	"time"

	"github.com/noah-isme/edugrade-api/internal/models"
)

// SubmissionCreateRequest describes the multipart fields accompanying an upload.
type SubmissionCreateRequest struct {
	Title   string `form:"title" validate:"omitempty,max=255"`
	Subject string `form:"subject" validate:"omitempty,max=128"`
}

// SubmissionUpdateRequest carries a partial update. A present AIScore records an analysis result.
type SubmissionUpdateRequest struct {
	FileName   *string           `json:"file_name" validate:"omitempty,min=1,max=255"`
	Subject    *string           `json:"subject" validate:"omitempty,min=1,max=128"`
	FileURL    *string           `json:"file_url" validate:"omitempty,max=512"`
	AIScore    *int              `json:"ai_score" validate:"omitempty,gte=0,lte=100"`
	WeakTopics []string          `json:"weak_topics" validate:"omitempty,dive,min=1,max=128"`
	Resources  []ResourcePayload `json:"recommended_resources" validate:"omitempty,dive"`
}

// ResourcePayload is a study recommendation supplied by a client.
type ResourcePayload struct {
	Title string `json:"title" validate:"required,max=255"`
	URL   string `json:"url" validate:"required,max=512"`
	Type  string `json:"type" validate:"required,oneof=video article exercise tutorial"`
}

// ApproveRequest optionally overrides the analyzer score.
type ApproveRequest struct {
	AdjustedScore *int `json:"adjusted_score" validate:"omitempty,gte=0,lte=100"`
}

// SubmissionFilter describes query string filters for teacher listings.
type SubmissionFilter struct {
	StudentID *string `query:"student_id" validate:"omitempty,max=64"`
	Status    *string `query:"status" validate:"omitempty,oneof=pending analyzed approved rejected failed"`
	Subject   *string `query:"subject" validate:"omitempty,max=128"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID                   string            `json:"id"`
	StudentID            string            `json:"student_id"`
	StudentName          string            `json:"student_name"`
	FileName             string            `json:"file_name"`
	FileURL              string            `json:"file_url"`
	MimeType             string            `json:"mime_type,omitempty"`
	Subject              string            `json:"subject"`
	Status               string            `json:"status"`
	AIScore              *int              `json:"ai_score"`
	WeakTopics           []string          `json:"weak_topics"`
	RecommendedResources []ResourcePayload `json:"recommended_resources"`
	TeacherApproved      bool              `json:"teacher_approved"`
	LastError            string            `json:"last_error,omitempty"`
	AnalysisAttempts     int               `json:"analysis_attempts"`
	ReviewedBy           string            `json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time        `json:"reviewed_at,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	topics := make([]string, 0, len(model.WeakTopics))
	topics = append(topics, model.WeakTopics...)

	resources := make([]ResourcePayload, 0, len(model.RecommendedResources))
	for _, resource := range model.RecommendedResources {
		resources = append(resources, ResourcePayload{Title: resource.Title, URL: resource.URL, Type: resource.Type})
	}

	return SubmissionResponse{
		ID:                   model.ID,
		StudentID:            model.StudentID,
		StudentName:          model.StudentName,
		FileName:             model.FileName,
		FileURL:              model.FileURL,
		MimeType:             model.MimeType,
		Subject:              model.Subject,
		Status:               model.Status,
		AIScore:              model.AIScore,
		WeakTopics:           topics,
		RecommendedResources: resources,
		TeacherApproved:      model.TeacherApproved,
		LastError:            model.LastError,
		AnalysisAttempts:     model.AnalysisAttempts,
		ReviewedBy:           model.ReviewedBy,
		ReviewedAt:           model.ReviewedAt,
		CreatedAt:            model.CreatedAt,
		UpdatedAt:            model.UpdatedAt,
	}
}

// NewSubmissionResponseSlice converts submission models into DTOs.
func NewSubmissionResponseSlice(items []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(items))
	for _, submission := range items {
		responses = append(responses, NewSubmissionResponse(submission))
	}

	return responses
}

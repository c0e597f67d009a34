package ai

import (
	"context"
	"errors"
)

// ErrAnalysisFailed marks any failure of the external analysis call, including malformed responses.
var ErrAnalysisFailed = errors.New("analysis failed")

// AnalysisInput contains the uploaded artefact and the labels chosen by the student.
type AnalysisInput struct {
	FileName string
	MimeType string
	Content  []byte
	FileURL  string
	Subject  string
	Title    string
}

// Resource is a study recommendation returned by the analyzer.
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

// AnalysisResult is the structured evaluation returned by an analyzer.
type AnalysisResult struct {
	Score      int                    `json:"score"`
	WeakTopics []string               `json:"weak_topics"`
	Resources  []Resource             `json:"resources"`
	Summary    string                 `json:"summary,omitempty"`
	Raw        map[string]interface{} `json:"raw,omitempty"`
}

// Analyzer scores an assignment in a single call without retrying.
type Analyzer interface {
	Analyze(ctx context.Context, input AnalysisInput) (AnalysisResult, error)
}

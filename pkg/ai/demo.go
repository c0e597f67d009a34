package ai

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

var demoTopics = map[string][]string{
	"mathematics": {"Derivatives", "Chain Rule", "Integrals", "Limits"},
	"physics":     {"Scientific Method", "Data Analysis", "Kinematics", "Energy Conservation"},
	"chemistry":   {"Stoichiometry", "Chemical Bonding", "Reaction Rates"},
	"english":     {"Grammar", "Transitions", "Thesis Statements"},
	"history":     {"Source Analysis", "Chronology", "Historical Context"},
	"biology":     {"Cell Structure", "Genetics", "Ecosystems"},
}

var demoResources = map[string]Resource{
	"Derivatives":       {Title: "Khan Academy: Derivatives", URL: "https://khanacademy.org/derivatives", Type: "video"},
	"Chain Rule":        {Title: "Chain Rule Practice Problems", URL: "https://example.com/chain-rule", Type: "exercise"},
	"Scientific Method": {Title: "Scientific Method Guide", URL: "https://example.com/scientific-method", Type: "article"},
	"Grammar":           {Title: "Grammar Checker Tool", URL: "https://example.com/grammar", Type: "tutorial"},
}

// DemoAnalyzer produces deterministic analyses without calling an external model.
type DemoAnalyzer struct {
	latency time.Duration
}

// NewDemoAnalyzer builds an analyzer that waits latency before answering.
func NewDemoAnalyzer(latency time.Duration) *DemoAnalyzer {
	return &DemoAnalyzer{latency: latency}
}

// Analyze derives a score and weak topics from a checksum of the upload.
func (d *DemoAnalyzer) Analyze(ctx context.Context, input AnalysisInput) (AnalysisResult, error) {
	if len(input.Content) == 0 {
		return AnalysisResult{}, fmt.Errorf("%w: empty submission", ErrAnalysisFailed)
	}

	if d.latency > 0 {
		timer := time.NewTimer(d.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return AnalysisResult{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, ctx.Err())
		case <-timer.C:
		}
	}

	digest := sha256.Sum256(append([]byte(input.Subject+"|"+input.Title+"|"), input.Content...))
	score := 55 + int(digest[0])%46

	catalogue, ok := demoTopics[strings.ToLower(strings.TrimSpace(input.Subject))]
	if !ok {
		catalogue = []string{"Study Skills", "Time Management"}
	}

	topicCount := 1 + int(digest[1])%2
	if score >= 95 {
		topicCount = 0
	}

	topics := make([]string, 0, topicCount)
	resources := make([]Resource, 0, topicCount)
	for i := 0; i < topicCount; i++ {
		topic := catalogue[(int(digest[2])+i)%len(catalogue)]
		topics = append(topics, topic)
		resource, exists := demoResources[topic]
		if !exists {
			resource = Resource{
				Title: topic + " Refresher",
				URL:   "https://example.com/" + strings.ToLower(strings.ReplaceAll(topic, " ", "-")),
				Type:  "article",
			}
		}
		resources = append(resources, resource)
	}

	return AnalysisResult{
		Score:      score,
		WeakTopics: topics,
		Resources:  resources,
		Summary:    fmt.Sprintf("Demo analysis for %s", input.Title),
	}, nil
}

package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxInlineTextBytes = 48 * 1024

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "edugrade",
		Subsystem: "ai",
		Name:      "analysis_duration_seconds",
		Help:      "Duration of AI analysis requests",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edugrade",
		Subsystem: "ai",
		Name:      "analysis_failures_total",
		Help:      "Number of AI analysis failures",
	}, []string{"model", "reason"})
)

// OpenAIConfig defines configuration options for the OpenAI analyzer.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIAnalyzer implements Analyzer against the OpenAI chat completion API.
type OpenAIAnalyzer struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIAnalyzer builds a new analyzer using the provided configuration.
func NewOpenAIAnalyzer(cfg OpenAIConfig) (*OpenAIAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 800
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIAnalyzer{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/edugrade-api/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_analyzer").Logger(),
	}, nil
}

// Analyze sends the assignment to OpenAI and parses the structured response.
func (a *OpenAIAnalyzer) Analyze(parent context.Context, input AnalysisInput) (AnalysisResult, error) {
	ctx, span := a.tracer.Start(parent, "openai.analyze", trace.WithAttributes(
		attribute.String("model", a.cfg.Model),
		attribute.String("analysis.subject", input.Subject),
		attribute.String("analysis.mime_type", input.MimeType),
	))
	defer span.End()

	request := openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: analyzerSystemPrompt(),
			},
			buildUserMessage(input),
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(a.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return AnalysisResult{}, a.fail(span, "request", fmt.Errorf("%w: openai request: %v", ErrAnalysisFailed, err))
	}

	if len(resp.Choices) == 0 {
		return AnalysisResult{}, a.fail(span, "empty", fmt.Errorf("%w: no choices returned from openai", ErrAnalysisFailed))
	}

	result, err := ParseAnalysisResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return AnalysisResult{}, a.fail(span, "malformed", err)
	}

	result.Raw = map[string]interface{}{
		"model": resp.Model,
		"usage": resp.Usage,
	}

	span.SetAttributes(attribute.Int("analysis.score", result.Score))
	a.logger.Debug().Int("score", result.Score).Str("subject", input.Subject).Msg("analysis completed")

	return result, nil
}

func (a *OpenAIAnalyzer) fail(span trace.Span, reason string, err error) error {
	aiFailures.WithLabelValues(a.cfg.Model, reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	return err
}

func analyzerSystemPrompt() string {
	return "You are a teaching assistant grading student assignments. Respond with a JSON object containing " +
		"score (integer 0-100), weak_topics (array of short topic names the student should improve), " +
		"resources (array of objects with title, url and type, where type is one of video, article, exercise, tutorial) " +
		"and an optional one sentence summary. Recommend at most one resource per weak topic."
}

func buildUserMessage(input AnalysisInput) openai.ChatCompletionMessage {
	prompt := buildUserPrompt(input)

	if strings.HasPrefix(input.MimeType, "image/") && len(input.Content) > 0 {
		dataURL := fmt.Sprintf("data:%s;base64,%s", input.MimeType, base64.StdEncoding.EncodeToString(input.Content))
		return openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailAuto,
					},
				},
			},
		}
	}

	return openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	}
}

func buildUserPrompt(input AnalysisInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Assignment\n")
	builder.WriteString(input.Title)
	builder.WriteString("\n\n## Subject\n")
	builder.WriteString(input.Subject)
	builder.WriteString("\n\n## File\n")
	builder.WriteString(input.FileName)
	if input.FileURL != "" {
		builder.WriteString(" (")
		builder.WriteString(input.FileURL)
		builder.WriteString(")")
	}

	if strings.HasPrefix(input.MimeType, "text/") && utf8.Valid(input.Content) {
		content := input.Content
		if len(content) > maxInlineTextBytes {
			content = content[:maxInlineTextBytes]
		}
		builder.WriteString("\n\n## Submission\n")
		builder.Write(content)
	}

	builder.WriteString("\n\nReturn JSON.")
	return builder.String()
}

package service

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/edugrade-api/internal/dto"
	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/observability"
	"github.com/noah-isme/edugrade-api/pkg/ai"
)

const persistTimeout = 10 * time.Second

var (
	// ErrRetryNotAllowed indicates the submission is not in the failed state.
	ErrRetryNotAllowed = errors.New("only failed submissions can be retried")
	// ErrWorkflowClosed indicates the process is shutting down and accepts no new analyses.
	ErrWorkflowClosed = errors.New("analysis workflow is shutting down")
)

// AnalysisWorkflow runs the upload, analyze and record pipeline for submissions.
type AnalysisWorkflow interface {
	Submit(ctx context.Context, student models.UserProfile, payload dto.SubmissionCreateRequest, file *multipart.FileHeader) (dto.SubmissionResponse, error)
	Retry(ctx context.Context, actor models.UserProfile, submissionID string) (dto.SubmissionResponse, error)
	Shutdown(ctx context.Context) error
}

type analysisWorkflow struct {
	submissions SubmissionService
	uploads     UploadService
	analyzer    ai.Analyzer
	notifier    Notifier
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer

	root   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight conc.WaitGroup
}

// NewAnalysisWorkflow wires the workflow. Analyses run on a context detached from the request
// and are only cancelled by Shutdown.
func NewAnalysisWorkflow(submissions SubmissionService, uploads UploadService, analyzer ai.Analyzer, notifier Notifier, validate *validator.Validate, logger zerolog.Logger) AnalysisWorkflow {
	root, cancel := context.WithCancel(context.Background())
	return &analysisWorkflow{
		submissions: submissions,
		uploads:     uploads,
		analyzer:    analyzer,
		notifier:    notifier,
		validator:   validate,
		logger:      logger.With().Str("component", "analysis_workflow").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/edugrade-api/internal/service/analysis_workflow"),
		root:        root,
		cancel:      cancel,
	}
}

func (w *analysisWorkflow) Submit(ctx context.Context, student models.UserProfile, payload dto.SubmissionCreateRequest, file *multipart.FileHeader) (dto.SubmissionResponse, error) {
	if w.isClosed() {
		return dto.SubmissionResponse{}, ErrWorkflowClosed
	}
	if err := w.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}
	if file == nil {
		return dto.SubmissionResponse{}, ErrUploadMissing
	}

	title := EffectiveTitle(payload.Title, file.Filename)

	stored, err := w.uploads.Accept(ctx, file)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	created, err := w.submissions.Create(ctx, NewSubmissionInput{
		StudentID:   student.ID,
		StudentName: student.FullName,
		FileName:    title,
		Subject:     payload.Subject,
		FileURL:     stored.URL,
		MimeType:    stored.MimeType,
	})
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	w.notifier.Notify(ctx, created.StudentID, models.NotificationKindStarted,
		"Processing started",
		fmt.Sprintf("%s is being analyzed.", created.FileName),
		created.ID)

	w.dispatch(created, stored.Content)
	return created, nil
}

func (w *analysisWorkflow) Retry(ctx context.Context, actor models.UserProfile, submissionID string) (dto.SubmissionResponse, error) {
	if w.isClosed() {
		return dto.SubmissionResponse{}, ErrWorkflowClosed
	}

	current, err := w.submissions.GetForViewer(ctx, actor, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if current.Status != models.SubmissionStatusFailed {
		return dto.SubmissionResponse{}, fmt.Errorf("%w: status is %s", ErrRetryNotAllowed, current.Status)
	}

	content, err := w.uploads.Load(ctx, current.FileURL)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	reset, err := w.submissions.ResetForRetry(ctx, submissionID)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return dto.SubmissionResponse{}, fmt.Errorf("%w: %v", ErrRetryNotAllowed, err)
		}
		return dto.SubmissionResponse{}, err
	}

	w.logger.Info().Str("submission_id", submissionID).Str("actor_id", actor.ID).Msg("analysis retry requested")
	w.notifier.Notify(ctx, reset.StudentID, models.NotificationKindStarted,
		"Processing restarted",
		fmt.Sprintf("%s is being analyzed again.", reset.FileName),
		reset.ID)

	w.dispatch(reset, content)
	return reset, nil
}

// Shutdown stops accepting work and waits for in-flight analyses until ctx expires, then cancels them.
func (w *analysisWorkflow) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		w.logger.Warn().Msg("shutdown deadline reached, cancelling in-flight analyses")
		return ctx.Err()
	}
}

func (w *analysisWorkflow) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *analysisWorkflow) dispatch(submission dto.SubmissionResponse, content []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		w.fail(submission, ErrWorkflowClosed)
		return
	}

	observability.AnalysisInFlight().Inc()
	w.inflight.Go(func() {
		defer observability.AnalysisInFlight().Dec()

		var catcher panics.Catcher
		catcher.Try(func() { w.analyze(submission, content) })
		if recovered := catcher.Recovered(); recovered != nil {
			w.logger.Error().Str("submission_id", submission.ID).Str("panic", recovered.String()).Msg("analysis panicked")
			w.fail(submission, fmt.Errorf("%w: internal error", ai.ErrAnalysisFailed))
		}
	})
}

func (w *analysisWorkflow) analyze(submission dto.SubmissionResponse, content []byte) {
	ctx, span := w.tracer.Start(w.root, "workflow.analyze", trace.WithAttributes(
		attribute.String("submission.id", submission.ID),
		attribute.String("submission.subject", submission.Subject),
	))
	defer span.End()

	result, err := w.analyzer.Analyze(ctx, ai.AnalysisInput{
		FileName: submission.FileName,
		MimeType: submission.MimeType,
		Content:  content,
		FileURL:  submission.FileURL,
		Subject:  submission.Subject,
		Title:    submission.FileName,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		w.fail(submission, err)
		return
	}

	outcome := models.AnalysisOutcome{
		Score:      result.Score,
		WeakTopics: result.WeakTopics,
		Resources: lo.FilterMap(result.Resources, func(item ai.Resource, _ int) (models.Resource, bool) {
			return models.Resource{Title: item.Title, URL: item.URL, Type: item.Type}, models.IsValidResourceType(item.Type)
		}),
	}

	persistCtx, cancel := w.persistContext()
	defer cancel()

	updated, err := w.submissions.RecordAnalysisResult(persistCtx, submission.ID, outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
		if errors.Is(err, models.ErrScoreOutOfRange) {
			w.fail(submission, fmt.Errorf("%w: %v", ai.ErrAnalysisFailed, err))
			return
		}
		w.fail(submission, fmt.Errorf("record analysis result: %w", err))
		return
	}

	score := lo.FromPtr(updated.AIScore)
	span.SetAttributes(attribute.Int("submission.score", score))
	w.logger.Info().Str("submission_id", updated.ID).Int("score", score).Msg("analysis recorded")
	w.notifier.Notify(persistCtx, updated.StudentID, models.NotificationKindSuccess,
		"Processing complete",
		fmt.Sprintf("%s scored %d/100.", updated.FileName, score),
		updated.ID)
}

// fail moves the submission to failed and emits the single error notification for this attempt.
func (w *analysisWorkflow) fail(submission dto.SubmissionResponse, cause error) {
	reason := cause.Error()
	if w.root.Err() != nil {
		reason = "analysis interrupted by shutdown"
	}

	persistCtx, cancel := w.persistContext()
	defer cancel()

	if _, err := w.submissions.MarkAnalysisFailed(persistCtx, submission.ID, reason); err != nil {
		w.logger.Error().Err(err).Str("submission_id", submission.ID).Msg("failed to mark analysis failure")
	} else {
		w.logger.Warn().Err(cause).Str("submission_id", submission.ID).Msg("analysis failed")
	}

	w.notifier.Notify(persistCtx, submission.StudentID, models.NotificationKindError,
		"Processing failed",
		fmt.Sprintf("%s could not be analyzed. You can retry from the dashboard.", submission.FileName),
		submission.ID)
}

// persistContext survives root cancellation so a shutdown still records the outcome.
func (w *analysisWorkflow) persistContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(w.root), persistTimeout)
}

// EffectiveTitle prefers the trimmed explicit title and falls back to the uploaded file's name.
func EffectiveTitle(title, fileName string) string {
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(filepath.Base(fileName))
}

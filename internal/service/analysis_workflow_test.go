package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edugrade-api/internal/dto"
	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/repository"
	"github.com/noah-isme/edugrade-api/pkg/ai"
)

type analyzerFunc func(ctx context.Context, input ai.AnalysisInput) (ai.AnalysisResult, error)

func (f analyzerFunc) Analyze(ctx context.Context, input ai.AnalysisInput) (ai.AnalysisResult, error) {
	return f(ctx, input)
}

type workflowFixture struct {
	workflow    AnalysisWorkflow
	submissions SubmissionService
	notifier    *recordingNotifier
	storage     *memoryStorage
}

func newWorkflowFixture(t *testing.T, analyzer ai.Analyzer) workflowFixture {
	t.Helper()
	submissions := NewSubmissionService(repository.NewMemorySubmissionRepository(), newValidator(), nil, testLogger())
	storage := newMemoryStorage()
	notifier := &recordingNotifier{}
	workflow := NewAnalysisWorkflow(submissions, NewUploadService(storage, 5, testLogger()), analyzer, notifier, newValidator(), testLogger())
	return workflowFixture{workflow: workflow, submissions: submissions, notifier: notifier, storage: storage}
}

func (f workflowFixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.workflow.Shutdown(ctx))
}

func scoringAnalyzer(score int, topics ...string) ai.Analyzer {
	return analyzerFunc(func(_ context.Context, input ai.AnalysisInput) (ai.AnalysisResult, error) {
		return ai.AnalysisResult{
			Score:      score,
			WeakTopics: topics,
			Resources: []ai.Resource{
				{Title: "Limits explained", URL: "https://example.com/limits", Type: "video"},
				{Title: "Unknown", URL: "https://example.com/x", Type: "podcast"},
			},
		}, nil
	})
}

func TestWorkflowSubmitAnalyzesInBackground(t *testing.T) {
	var seen ai.AnalysisInput
	var mu sync.Mutex
	analyzer := analyzerFunc(func(ctx context.Context, input ai.AnalysisInput) (ai.AnalysisResult, error) {
		mu.Lock()
		seen = input
		mu.Unlock()
		return scoringAnalyzer(85, "Derivatives").Analyze(ctx, input)
	})
	fx := newWorkflowFixture(t, analyzer)

	created, err := fx.workflow.Submit(context.Background(), studentProfile, dto.SubmissionCreateRequest{Subject: "Calculus"}, newTestFileHeader(t, "homework.png", pngHeader))
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, created.Status)
	require.Equal(t, "homework.png", created.FileName)
	require.Equal(t, "Calculus", created.Subject)
	require.Equal(t, "image/png", created.MimeType)
	require.Contains(t, created.FileURL, "mem://homework-")

	fx.drain(t)

	stored, err := fx.submissions.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusAnalyzed, stored.Status)
	require.Equal(t, 85, *stored.AIScore)
	require.Equal(t, []string{"Derivatives"}, stored.WeakTopics)
	require.Len(t, stored.RecommendedResources, 1)
	require.Equal(t, []string{models.NotificationKindStarted, models.NotificationKindSuccess}, fx.notifier.kinds(created.ID))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, pngHeader, seen.Content)
	require.Equal(t, "image/png", seen.MimeType)
	require.Equal(t, "Calculus", seen.Subject)
}

func TestWorkflowFailureEmitsSingleErrorNotification(t *testing.T) {
	fx := newWorkflowFixture(t, analyzerFunc(func(context.Context, ai.AnalysisInput) (ai.AnalysisResult, error) {
		return ai.AnalysisResult{}, errors.Join(ai.ErrAnalysisFailed, errors.New("upstream returned 502"))
	}))

	created, err := fx.workflow.Submit(context.Background(), studentProfile, dto.SubmissionCreateRequest{Title: "Essay draft"}, newTestFileHeader(t, "essay.pdf", pdfDocument))
	require.NoError(t, err)
	require.Equal(t, "Essay draft", created.FileName)
	require.Equal(t, DefaultSubject, created.Subject)

	fx.drain(t)

	stored, err := fx.submissions.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusFailed, stored.Status)
	require.Nil(t, stored.AIScore)
	require.Contains(t, stored.LastError, "upstream returned 502")
	require.Equal(t, []string{models.NotificationKindStarted, models.NotificationKindError}, fx.notifier.kinds(created.ID))
}

func TestWorkflowRejectsOutOfRangeScores(t *testing.T) {
	fx := newWorkflowFixture(t, scoringAnalyzer(140))

	created, err := fx.workflow.Submit(context.Background(), studentProfile, dto.SubmissionCreateRequest{}, newTestFileHeader(t, "notes.txt", []byte("my notes on limits")))
	require.NoError(t, err)
	fx.drain(t)

	stored, err := fx.submissions.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusFailed, stored.Status)
	require.Nil(t, stored.AIScore)
	require.Equal(t, []string{models.NotificationKindStarted, models.NotificationKindError}, fx.notifier.kinds(created.ID))
}

func TestWorkflowRecoversAnalyzerPanics(t *testing.T) {
	fx := newWorkflowFixture(t, analyzerFunc(func(context.Context, ai.AnalysisInput) (ai.AnalysisResult, error) {
		panic("boom")
	}))

	created, err := fx.workflow.Submit(context.Background(), studentProfile, dto.SubmissionCreateRequest{}, newTestFileHeader(t, "scan.png", pngHeader))
	require.NoError(t, err)
	fx.drain(t)

	stored, err := fx.submissions.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusFailed, stored.Status)
	require.Equal(t, []string{models.NotificationKindStarted, models.NotificationKindError}, fx.notifier.kinds(created.ID))
}

// unsavableResults fails every attempt to store an analysis outcome.
type unsavableResults struct {
	SubmissionService
}

func (unsavableResults) RecordAnalysisResult(context.Context, string, models.AnalysisOutcome) (dto.SubmissionResponse, error) {
	return dto.SubmissionResponse{}, errors.New("database is locked")
}

func TestWorkflowMarksFailedWhenResultCannotBeStored(t *testing.T) {
	submissions := NewSubmissionService(repository.NewMemorySubmissionRepository(), newValidator(), nil, testLogger())
	notifier := &recordingNotifier{}
	uploads := NewUploadService(newMemoryStorage(), 5, testLogger())
	workflow := NewAnalysisWorkflow(unsavableResults{submissions}, uploads, scoringAnalyzer(77), notifier, newValidator(), testLogger())

	created, err := workflow.Submit(context.Background(), studentProfile, dto.SubmissionCreateRequest{}, newTestFileHeader(t, "lab.png", pngHeader))
	require.NoError(t, err)
	require.NoError(t, workflow.Shutdown(context.Background()))

	stored, err := submissions.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusFailed, stored.Status)
	require.Nil(t, stored.AIScore)
	require.Contains(t, stored.LastError, "database is locked")
	require.Equal(t, 1, stored.AnalysisAttempts)
	require.Equal(t, []string{models.NotificationKindStarted, models.NotificationKindError}, notifier.kinds(created.ID))

	retried := NewAnalysisWorkflow(submissions, uploads, scoringAnalyzer(77), notifier, newValidator(), testLogger())
	restarted, err := retried.Retry(context.Background(), studentProfile, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, restarted.Status)
	require.NoError(t, retried.Shutdown(context.Background()))

	analyzed, err := submissions.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusAnalyzed, analyzed.Status)
	require.Equal(t, 77, *analyzed.AIScore)
}

func TestWorkflowRejectsInvalidUploads(t *testing.T) {
	fx := newWorkflowFixture(t, scoringAnalyzer(90))

	_, err := fx.workflow.Submit(context.Background(), studentProfile, dto.SubmissionCreateRequest{}, nil)
	require.ErrorIs(t, err, ErrUploadMissing)

	_, err = fx.workflow.Submit(context.Background(), studentProfile, dto.SubmissionCreateRequest{}, newTestFileHeader(t, "script.exe", []byte("MZ")))
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)

	fx.drain(t)

	all, err := fx.submissions.ListAll(context.Background(), dto.SubmissionFilter{})
	require.NoError(t, err)
	require.Empty(t, all)
	require.Empty(t, fx.notifier.notices)
}

func TestWorkflowRetryRunsFailedSubmissionAgain(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	analyzer := analyzerFunc(func(context.Context, ai.AnalysisInput) (ai.AnalysisResult, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return ai.AnalysisResult{}, ai.ErrAnalysisFailed
		}
		return ai.AnalysisResult{Score: 72, WeakTopics: []string{"Integrals"}}, nil
	})

	submissions := NewSubmissionService(repository.NewMemorySubmissionRepository(), newValidator(), nil, testLogger())
	notifier := &recordingNotifier{}
	uploads := NewUploadService(newMemoryStorage(), 5, testLogger())

	first := NewAnalysisWorkflow(submissions, uploads, analyzer, notifier, newValidator(), testLogger())
	created, err := first.Submit(context.Background(), studentProfile, dto.SubmissionCreateRequest{}, newTestFileHeader(t, "calc.pdf", pdfDocument))
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(context.Background()))

	failed, err := submissions.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusFailed, failed.Status)

	second := NewAnalysisWorkflow(submissions, uploads, analyzer, notifier, newValidator(), testLogger())

	_, err = second.Retry(context.Background(), otherStudent, created.ID)
	require.ErrorIs(t, err, ErrSubmissionForbidden)

	restarted, err := second.Retry(context.Background(), studentProfile, created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, restarted.Status)
	require.NoError(t, second.Shutdown(context.Background()))

	analyzed, err := submissions.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusAnalyzed, analyzed.Status)
	require.Equal(t, 72, *analyzed.AIScore)
	require.Equal(t, 2, analyzed.AnalysisAttempts)
	require.Equal(t, []string{
		models.NotificationKindStarted,
		models.NotificationKindError,
		models.NotificationKindStarted,
		models.NotificationKindSuccess,
	}, notifier.kinds(created.ID))
}

func TestWorkflowRetryRequiresFailedStatus(t *testing.T) {
	fx := newWorkflowFixture(t, scoringAnalyzer(88))

	created, err := fx.workflow.Submit(context.Background(), studentProfile, dto.SubmissionCreateRequest{}, newTestFileHeader(t, "hw.png", pngHeader))
	require.NoError(t, err)
	fx.drain(t)

	_, err = fx.workflow.Retry(context.Background(), studentProfile, created.ID)
	require.ErrorIs(t, err, ErrWorkflowClosed)

	reopened := NewAnalysisWorkflow(fx.submissions, NewUploadService(fx.storage, 5, testLogger()), scoringAnalyzer(88), fx.notifier, newValidator(), testLogger())
	_, err = reopened.Retry(context.Background(), studentProfile, created.ID)
	require.ErrorIs(t, err, ErrRetryNotAllowed)

	_, err = reopened.Retry(context.Background(), teacherProfile, "missing")
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestWorkflowShutdownCancelsSlowAnalyses(t *testing.T) {
	started := make(chan struct{})
	fx := newWorkflowFixture(t, analyzerFunc(func(ctx context.Context, _ ai.AnalysisInput) (ai.AnalysisResult, error) {
		close(started)
		<-ctx.Done()
		return ai.AnalysisResult{}, ctx.Err()
	}))

	created, err := fx.workflow.Submit(context.Background(), studentProfile, dto.SubmissionCreateRequest{}, newTestFileHeader(t, "slow.png", pngHeader))
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, fx.workflow.Shutdown(ctx), context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		stored, err := fx.submissions.Get(context.Background(), created.ID)
		return err == nil && stored.Status == models.SubmissionStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := fx.submissions.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, "analysis interrupted by shutdown", stored.LastError)

	_, err = fx.workflow.Submit(context.Background(), studentProfile, dto.SubmissionCreateRequest{}, newTestFileHeader(t, "late.png", pngHeader))
	require.ErrorIs(t, err, ErrWorkflowClosed)
}

func TestEffectiveTitle(t *testing.T) {
	require.Equal(t, "Week 3 quiz", EffectiveTitle("  Week 3 quiz ", "quiz.pdf"))
	require.Equal(t, "quiz.pdf", EffectiveTitle("   ", "quiz.pdf"))
	require.Equal(t, "quiz.pdf", EffectiveTitle("", "uploads/quiz.pdf"))
}

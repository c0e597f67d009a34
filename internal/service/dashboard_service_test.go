package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/repository"
)

func scoredSubmission(id, studentID, status string, score *int, topics ...string) models.Submission {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	submission := models.NewSubmission(id, studentID, "", id+".pdf", DefaultSubject, "", created)
	submission.Status = status
	submission.AIScore = score
	submission.WeakTopics = topics
	submission.TeacherApproved = status == models.SubmissionStatusApproved
	return submission
}

func intPtr(v int) *int {
	return &v
}

func classroomSample() []models.Submission {
	return []models.Submission{
		scoredSubmission("a", "student-1", models.SubmissionStatusApproved, intPtr(80), "Derivatives", "Limits"),
		scoredSubmission("b", "student-2", models.SubmissionStatusApproved, intPtr(90), "Integrals"),
		scoredSubmission("c", "student-1", models.SubmissionStatusAnalyzed, intPtr(85), "Derivatives"),
		scoredSubmission("d", "student-3", models.SubmissionStatusFailed, nil),
	}
}

func TestBuildClassroomStats(t *testing.T) {
	stats := BuildClassroomStats(classroomSample())

	require.Equal(t, 4, stats.TotalSubmissions)
	require.Equal(t, 2, stats.ApprovedSubmissions)
	require.Equal(t, 85, stats.AverageScore)
	require.Equal(t, 75, stats.WeakTopicsPercentage)
	require.Equal(t, 1, stats.AwaitingReview)

	empty := BuildClassroomStats(nil)
	require.Zero(t, empty.TotalSubmissions)
	require.Zero(t, empty.AverageScore)
	require.Zero(t, empty.WeakTopicsPercentage)
}

func TestBuildStudentStatsAveragesApprovedOnly(t *testing.T) {
	submissions := []models.Submission{
		scoredSubmission("a", "student-1", models.SubmissionStatusApproved, intPtr(81)),
		scoredSubmission("b", "student-1", models.SubmissionStatusApproved, intPtr(90)),
		scoredSubmission("c", "student-1", models.SubmissionStatusAnalyzed, intPtr(20)),
		scoredSubmission("d", "student-1", models.SubmissionStatusFailed, nil),
		scoredSubmission("e", "student-1", models.SubmissionStatusPending, nil),
	}

	stats := BuildStudentStats(submissions)
	require.Equal(t, 5, stats.TotalSubmissions)
	require.Equal(t, 2, stats.ApprovedSubmissions)
	require.Equal(t, 86, stats.AverageScore)
	require.Equal(t, 1, stats.AwaitingReview)
	require.Equal(t, 1, stats.Processing)
	require.Equal(t, 1, stats.Failed)
}

func TestAggregateWeakTopics(t *testing.T) {
	topics := AggregateWeakTopics(classroomSample(), 0)
	require.Len(t, topics, 3)
	require.Equal(t, "Derivatives", topics[0].Topic)
	require.Equal(t, 2, topics[0].Count)
	require.Equal(t, 50, topics[0].Percentage)
	require.Equal(t, "Integrals", topics[1].Topic)
	require.Equal(t, "Limits", topics[2].Topic)
	require.Equal(t, 25, topics[2].Percentage)

	limited := AggregateWeakTopics(classroomSample(), 1)
	require.Len(t, limited, 1)
	require.Equal(t, "Derivatives", limited[0].Topic)

	require.Empty(t, AggregateWeakTopics(nil, 5))
}

func TestDashboardServiceStudentView(t *testing.T) {
	repo := repository.NewMemorySubmissionRepository()
	for _, submission := range classroomSample() {
		submission := submission
		require.NoError(t, repo.Create(context.Background(), &submission))
	}

	svc := NewDashboardService(repo, nil, time.Minute, testLogger())
	dashboard, err := svc.StudentDashboard(context.Background(), "student-1")
	require.NoError(t, err)
	require.Equal(t, 2, dashboard.Stats.TotalSubmissions)
	require.Equal(t, 1, dashboard.Stats.ApprovedSubmissions)
	require.Equal(t, 80, dashboard.Stats.AverageScore)
	require.Len(t, dashboard.Recent, 2)
	for _, item := range dashboard.Recent {
		require.Equal(t, "student-1", item.StudentID)
	}
}

func TestDashboardServiceCachesUntilInvalidated(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := repository.NewMemorySubmissionRepository()
	for _, submission := range classroomSample() {
		submission := submission
		require.NoError(t, repo.Create(context.Background(), &submission))
	}

	svc := NewDashboardService(repo, client, time.Minute, testLogger())
	ctx := context.Background()

	first, err := svc.ClassroomStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, first.TotalSubmissions)
	require.True(t, server.Exists("dashboard:0:classroom"))

	extra := scoredSubmission("e", "student-4", models.SubmissionStatusAnalyzed, intPtr(40))
	require.NoError(t, repo.Create(ctx, &extra))

	cached, err := svc.ClassroomStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, cached.TotalSubmissions)

	svc.Invalidate(ctx)

	fresh, err := svc.ClassroomStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, fresh.TotalSubmissions)
	require.True(t, server.Exists("dashboard:1:classroom"))
}

func TestDashboardServiceFallsBackWhenRedisIsDown(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	server.Close()

	repo := repository.NewMemorySubmissionRepository()
	for _, submission := range classroomSample() {
		submission := submission
		require.NoError(t, repo.Create(context.Background(), &submission))
	}

	svc := NewDashboardService(repo, client, time.Minute, testLogger())
	stats, err := svc.ClassroomStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, stats.TotalSubmissions)

	svc.Invalidate(context.Background())
}

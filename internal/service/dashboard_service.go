package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/noah-isme/edugrade-api/internal/dto"
	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/observability"
	"github.com/noah-isme/edugrade-api/internal/repository"
)

const (
	dashboardGenerationKey = "dashboard:generation"
	recentSubmissionsLimit = 5
)

// DashboardService produces aggregated submission statistics.
type DashboardService interface {
	StudentDashboard(ctx context.Context, studentID string) (dto.StudentDashboardResponse, error)
	ClassroomStats(ctx context.Context) (dto.ClassroomStats, error)
	WeakTopics(ctx context.Context, limit int) ([]dto.WeakTopicStat, error)
	Invalidate(ctx context.Context)
}

type dashboardService struct {
	submissions repository.SubmissionRepository
	cache       *redis.Client
	cacheTTL    time.Duration
	logger      zerolog.Logger
}

// NewDashboardService builds the dashboard aggregator. cache may be nil.
func NewDashboardService(submissions repository.SubmissionRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) DashboardService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &dashboardService{
		submissions: submissions,
		cache:       cache,
		cacheTTL:    ttl,
		logger:      logger.With().Str("component", "dashboard_service").Logger(),
	}
}

func (s *dashboardService) StudentDashboard(ctx context.Context, studentID string) (dto.StudentDashboardResponse, error) {
	var response dto.StudentDashboardResponse
	err := s.cached(ctx, "student:"+studentID, &response, func() (interface{}, error) {
		submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{StudentID: &studentID})
		if err != nil {
			return nil, err
		}
		return dto.StudentDashboardResponse{
			Stats:  BuildStudentStats(submissions),
			Recent: dto.NewSubmissionResponseSlice(lo.Subset(submissions, 0, recentSubmissionsLimit)),
		}, nil
	})
	return response, err
}

func (s *dashboardService) ClassroomStats(ctx context.Context) (dto.ClassroomStats, error) {
	var response dto.ClassroomStats
	err := s.cached(ctx, "classroom", &response, func() (interface{}, error) {
		submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{})
		if err != nil {
			return nil, err
		}
		return BuildClassroomStats(submissions), nil
	})
	return response, err
}

func (s *dashboardService) WeakTopics(ctx context.Context, limit int) ([]dto.WeakTopicStat, error) {
	var response []dto.WeakTopicStat
	err := s.cached(ctx, fmt.Sprintf("weak_topics:%d", limit), &response, func() (interface{}, error) {
		submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{})
		if err != nil {
			return nil, err
		}
		return AggregateWeakTopics(submissions, limit), nil
	})
	return response, err
}

// Invalidate bumps the cache generation so every cached aggregate becomes unreachable.
func (s *dashboardService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Incr(ctx, dashboardGenerationKey).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate dashboard cache")
	}
}

func (s *dashboardService) cached(ctx context.Context, key string, target interface{}, compute func() (interface{}, error)) error {
	cacheKey := ""
	if s.cache != nil {
		generation, err := s.cache.Get(ctx, dashboardGenerationKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read dashboard cache generation")
		} else {
			cacheKey = fmt.Sprintf("dashboard:%d:%s", generation, key)
		}
	}

	if cacheKey != "" {
		cached, err := s.cache.Get(ctx, cacheKey).Bytes()
		switch {
		case err == nil:
			if unmarshalErr := json.Unmarshal(cached, target); unmarshalErr == nil {
				observability.DashboardCacheLookups().WithLabelValues("hit").Inc()
				return nil
			}
		case !errors.Is(err, redis.Nil):
			s.logger.Warn().Err(err).Msg("failed to read dashboard cache")
		}
		observability.DashboardCacheLookups().WithLabelValues("miss").Inc()
	}

	value, err := compute()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return err
	}

	if cacheKey != "" {
		if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to store dashboard cache")
		}
	}

	return nil
}

// BuildStudentStats averages scores over approved submissions only.
func BuildStudentStats(submissions []models.Submission) dto.StudentStats {
	approved := lo.Filter(submissions, func(item models.Submission, _ int) bool {
		return item.Status == models.SubmissionStatusApproved
	})

	return dto.StudentStats{
		TotalSubmissions:    len(submissions),
		ApprovedSubmissions: len(approved),
		AverageScore:        roundedAverage(approved),
		AwaitingReview:      lo.CountBy(submissions, models.Submission.AwaitingReview),
		Processing:          countStatus(submissions, models.SubmissionStatusPending),
		Failed:              countStatus(submissions, models.SubmissionStatusFailed),
	}
}

// BuildClassroomStats summarises every submission for the teacher overview.
func BuildClassroomStats(submissions []models.Submission) dto.ClassroomStats {
	stats := dto.ClassroomStats{
		TotalSubmissions: len(submissions),
		ApprovedSubmissions: lo.CountBy(submissions, func(item models.Submission) bool {
			return item.TeacherApproved
		}),
		AverageScore:   roundedAverage(submissions),
		AwaitingReview: lo.CountBy(submissions, models.Submission.AwaitingReview),
	}

	if len(submissions) > 0 {
		withTopics := lo.CountBy(submissions, func(item models.Submission) bool {
			return len(item.WeakTopics) > 0
		})
		stats.WeakTopicsPercentage = percentage(withTopics, len(submissions))
	}

	return stats
}

// AggregateWeakTopics counts topic mentions across submissions. limit <= 0 returns every topic.
func AggregateWeakTopics(submissions []models.Submission, limit int) []dto.WeakTopicStat {
	mentions := lo.FlatMap(submissions, func(item models.Submission, _ int) []string {
		return item.WeakTopics
	})
	counts := lo.CountValues(mentions)

	stats := make([]dto.WeakTopicStat, 0, len(counts))
	for topic, count := range counts {
		stats = append(stats, dto.WeakTopicStat{
			Topic:      topic,
			Count:      count,
			Percentage: percentage(count, len(mentions)),
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Topic < stats[j].Topic
	})

	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats
}

func roundedAverage(submissions []models.Submission) int {
	scores := lo.FilterMap(submissions, func(item models.Submission, _ int) (int, bool) {
		if item.AIScore == nil {
			return 0, false
		}
		return *item.AIScore, true
	})
	if len(scores) == 0 {
		return 0
	}
	return int(math.Round(float64(lo.Sum(scores)) / float64(len(scores))))
}

func countStatus(submissions []models.Submission, status string) int {
	return lo.CountBy(submissions, func(item models.Submission) bool {
		return item.Status == status
	})
}

func percentage(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) * 100 / float64(total)))
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/edugrade-api/internal/dto"
	"github.com/noah-isme/edugrade-api/internal/models"
	"github.com/noah-isme/edugrade-api/internal/observability"
	"github.com/noah-isme/edugrade-api/internal/repository"
)

const notificationBufferSize = 16

// ErrNotificationNotFound indicates the notification does not exist for the user.
var ErrNotificationNotFound = errors.New("notification not found")

// Notifier emits fire-and-forget messages about a submission's progress.
type Notifier interface {
	Notify(ctx context.Context, userID, kind, title, message, submissionID string)
}

// NotificationService publishes and streams notifications to end users.
type NotificationService interface {
	Notifier
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
	List(ctx context.Context, userID string, limit, offset int) (dto.NotificationListResponse, error)
	MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error)
	Subscribe(userID string) (<-chan dto.NotificationResponse, func())
	Start(ctx context.Context)
}

type notificationService struct {
	repo      repository.NotificationRepository
	relays    []notificationRelay
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	sanitizer *bluemonday.Policy
	hub       *streamHub
	origin    string
}

// NewNotificationService constructs a notification service. redisClient and natsConn are optional
// and relay notifications between API replicas under channelBase.
func NewNotificationService(repo repository.NotificationRepository, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	scoped := logger.With().Str("component", "notification_service").Logger()
	return &notificationService{
		repo:      repo,
		relays:    buildRelays(channelBase, redisClient, natsConn, scoped),
		validator: validate,
		logger:    scoped,
		tracer:    otel.Tracer("github.com/noah-isme/edugrade-api/internal/service/notification"),
		sanitizer: bluemonday.StrictPolicy(),
		hub:       newStreamHub(),
		origin:    uuid.NewString(),
	}
}

// Start attaches the replica relays. Listening stops when ctx is cancelled.
func (s *notificationService) Start(ctx context.Context) {
	for _, relay := range s.relays {
		if err := relay.Listen(ctx, s.receive); err != nil {
			s.logger.Error().Err(err).Str("relay", relay.Name()).Msg("failed to listen for relayed notifications")
		}
	}
}

// Notify publishes and only logs failures; callers never branch on delivery.
func (s *notificationService) Notify(ctx context.Context, userID, kind, title, message, submissionID string) {
	_, err := s.Publish(ctx, dto.NotificationCreateRequest{
		UserID:       userID,
		Kind:         kind,
		Title:        title,
		Message:      message,
		SubmissionID: submissionID,
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("user_id", userID).
			Str("kind", kind).
			Str("submission_id", submissionID).
			Msg("notification not delivered")
	}
}

func (s *notificationService) Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	payload.Title = strings.TrimSpace(s.sanitizer.Sanitize(payload.Title))
	payload.Message = strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.publish", trace.WithAttributes(
		attribute.String("notification.user_id", payload.UserID),
		attribute.String("notification.kind", payload.Kind),
		attribute.String("notification.submission_id", payload.SubmissionID),
	))
	defer span.End()

	model := models.Notification{
		UserID:       payload.UserID,
		Kind:         payload.Kind,
		Title:        payload.Title,
		Message:      payload.Message,
		SubmissionID: payload.SubmissionID,
	}

	if err := s.repo.Create(spanCtx, &model); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return dto.NotificationResponse{}, err
	}

	response := dto.NewNotificationResponse(model)
	s.hub.deliver(response)
	s.relay(spanCtx, response)

	observability.NotificationsSent().WithLabelValues(response.Kind).Inc()

	return response, nil
}

func (s *notificationService) List(ctx context.Context, userID string, limit, offset int) (dto.NotificationListResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return dto.NotificationListResponse{}, errors.New("user id is required")
	}

	feed, err := s.repo.Feed(ctx, repository.NotificationQuery{UserID: userID, Limit: limit, Offset: offset})
	if err != nil {
		return dto.NotificationListResponse{}, err
	}

	return dto.NotificationListResponse{
		Items:  dto.NewNotificationResponseSlice(feed.Items),
		Unread: feed.Unread,
	}, nil
}

func (s *notificationService) MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, userID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NotificationResponse{}, ErrNotificationNotFound
		}
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) Subscribe(userID string) (<-chan dto.NotificationResponse, func()) {
	channel := make(chan dto.NotificationResponse, notificationBufferSize)

	s.hub.add(userID, channel)
	observability.StreamClientsActive().Inc()

	var once sync.Once
	return channel, func() {
		once.Do(func() {
			s.hub.remove(userID, channel)
			observability.StreamClientsActive().Dec()
		})
	}
}

// relay forwards to other replicas; failures only cost remote live delivery.
func (s *notificationService) relay(ctx context.Context, notification dto.NotificationResponse) {
	if len(s.relays) == 0 {
		return
	}

	payload, err := encodeRelayEnvelope(s.origin, notification)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode relayed notification")
		return
	}

	for _, relay := range s.relays {
		if err := relay.Send(ctx, payload); err != nil {
			s.logger.Warn().Err(err).Str("relay", relay.Name()).Msg("failed to relay notification")
		}
	}
}

func (s *notificationService) receive(payload []byte) {
	var envelope relayEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid relayed notification payload")
		return
	}
	if envelope.Origin == s.origin || envelope.Notification.UserID == "" {
		return
	}
	s.hub.deliver(envelope.Notification)
}

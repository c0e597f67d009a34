package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/edugrade-api/internal/dto"
)

// relayEnvelope is the wire format shared by every replica.
type relayEnvelope struct {
	Origin       string                   `json:"origin"`
	Notification dto.NotificationResponse `json:"notification"`
	EmittedAt    time.Time                `json:"emitted_at"`
}

// notificationRelay carries notifications between API replicas.
type notificationRelay interface {
	Name() string
	Send(ctx context.Context, payload []byte) error
	Listen(ctx context.Context, deliver func([]byte)) error
}

type redisRelay struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

func (r redisRelay) Name() string { return "redis" }

func (r redisRelay) Send(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r redisRelay) Listen(ctx context.Context, deliver func([]byte)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	go func() {
		defer func() { _ = pubsub.Close() }()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, redis.ErrClosed) {
					r.logger.Error().Err(err).Str("channel", r.channel).Msg("redis notification relay stopped")
				}
				return
			}
			deliver([]byte(msg.Payload))
		}
	}()
	return nil
}

type natsRelay struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

func (r natsRelay) Name() string { return "nats" }

func (r natsRelay) Send(_ context.Context, payload []byte) error {
	return r.conn.Publish(r.subject, payload)
}

// Listen uses a plain subscription: every replica must see every event to reach its own stream clients.
func (r natsRelay) Listen(ctx context.Context, deliver func([]byte)) error {
	sub, err := r.conn.Subscribe(r.subject, func(msg *nats.Msg) {
		deliver(msg.Data)
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			r.logger.Warn().Err(err).Str("subject", r.subject).Msg("failed to drain nats notification relay")
		}
	}()
	return nil
}

// buildRelays derives the redis channel and nats subject from a shared base name.
func buildRelays(base string, redisClient *redis.Client, natsConn *nats.Conn, logger zerolog.Logger) []notificationRelay {
	if base == "" {
		return nil
	}

	var relays []notificationRelay
	if redisClient != nil {
		relays = append(relays, redisRelay{client: redisClient, channel: base + ":notifications", logger: logger})
	}
	if natsConn != nil {
		subject := strings.ReplaceAll(base, ":", ".") + ".notifications"
		relays = append(relays, natsRelay{conn: natsConn, subject: subject, logger: logger})
	}
	return relays
}

// streamHub tracks the live SSE and WebSocket subscribers of this replica.
type streamHub struct {
	mu    sync.RWMutex
	users map[string]map[chan dto.NotificationResponse]struct{}
}

func newStreamHub() *streamHub {
	return &streamHub{users: make(map[string]map[chan dto.NotificationResponse]struct{})}
}

func (h *streamHub) add(userID string, ch chan dto.NotificationResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.users[userID]
	if !ok {
		set = make(map[chan dto.NotificationResponse]struct{})
		h.users[userID] = set
	}
	set[ch] = struct{}{}
}

func (h *streamHub) remove(userID string, ch chan dto.NotificationResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.users[userID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(h.users, userID)
	}
}

// deliver never blocks; a subscriber with a full buffer misses the message.
func (h *streamHub) deliver(notification dto.NotificationResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.users[notification.UserID] {
		select {
		case ch <- notification:
		default:
		}
	}
}

func encodeRelayEnvelope(origin string, notification dto.NotificationResponse) ([]byte, error) {
	return json.Marshal(relayEnvelope{
		Origin:       origin,
		Notification: notification,
		EmittedAt:    time.Now().UTC(),
	})
}

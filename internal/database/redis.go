package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisPingTimeout = 3 * time.Second

// ConnectRedis dials the Redis instance backing the dashboard cache and the
// notification relay. The client identifies itself as name in CLIENT LIST.
func ConnectRedis(ctx context.Context, url, name string, logger zerolog.Logger) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url must not be empty")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = name
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("redis connected")
	return client, nil
}

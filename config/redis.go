package config

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewRedisClient builds the shared client used by the queue, the cache and the
// rate limiter, and waits until the server answers PING.
func NewRedisClient(ctx context.Context, cfg Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	operation := func() (string, error) {
		pong, err := client.Ping(ctx).Result()
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("addr", cfg.Addr).Msg("Failed to connect to Redis. Retrying...")
			return "", err
		}
		return pong, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	if _, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5)); err != nil {
		_ = client.Close()
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("addr", cfg.Addr).Msg("Successfully connected to Redis")
	return client, nil
}

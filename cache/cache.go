// Package cache stores finished split results so that repeated requests for
// the same video and clip duration are answered without a new job.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"video-splitter/entities"
)

const DefaultTTL = 24 * time.Hour

type Store interface {
	Get(ctx context.Context, videoId string, duration int) (*entities.CacheEntry, bool)
	Set(ctx context.Context, entry entities.CacheEntry, ttl time.Duration) bool
	Invalidate(ctx context.Context, videoId string) (int, error)
	Ping(ctx context.Context) error
}

type redisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &redisStore{client: client, ttl: ttl}
}

func Key(videoId string, duration int) string {
	return fmt.Sprintf("video:%s:%d", videoId, duration)
}

// Get treats every store error as a miss.
func (s *redisStore) Get(ctx context.Context, videoId string, duration int) (*entities.CacheEntry, bool) {
	key := Key(videoId, duration)
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		zerolog.Ctx(ctx).Debug().Str("key", key).Msg("cache miss")
		return nil, false
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("cache get failed")
		return nil, false
	}

	var entry entities.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("cache entry is corrupt")
		return nil, false
	}
	zerolog.Ctx(ctx).Debug().Str("key", key).Msg("cache hit")
	return &entry, true
}

func (s *redisStore) Set(ctx context.Context, entry entities.CacheEntry, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.ttl
	}
	key := Key(entry.VideoId, entry.Duration)
	raw, err := json.Marshal(entry)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("failed to encode cache entry")
		return false
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("key", key).Msg("cache set failed")
		return false
	}
	zerolog.Ctx(ctx).Info().Str("key", key).Dur("ttl", ttl).Msg("cached split result")
	return true
}

// Invalidate removes the entries of every clip duration for videoId.
func (s *redisStore) Invalidate(ctx context.Context, videoId string) (int, error) {
	pattern := fmt.Sprintf("video:%s:*", videoId)
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete cache keys: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("video_id", videoId).Int64("keys", n).Msg("invalidated cache")
	return int(n), nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

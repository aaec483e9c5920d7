package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"movie-agent/internal/domain"
	"movie-agent/internal/metrics"
)

const redisBackend = "redis"

// redisAPI is the subset of *redis.Client used by Redis.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Redis shares cached lookups between processes. Expiry is delegated to the
// server, so a stale entry is never returned.
type Redis struct {
	api    redisAPI
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis wraps a Redis client. A non-positive ttl selects DefaultTTL.
func NewRedis(api redisAPI, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	if api == nil {
		return nil, errors.New("cache: redis client must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{api: api, ttl: ttl, logger: logger}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]domain.Movie, bool) {
	raw, err := r.api.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			metrics.CacheErrors.WithLabelValues(redisBackend, "get").Inc()
			r.logger.Warn("cache get failed", "key", key, "err", err)
		}
		metrics.CacheMisses.WithLabelValues(redisBackend).Inc()
		return nil, false
	}

	var movies []domain.Movie
	if err := json.Unmarshal(raw, &movies); err != nil {
		metrics.CacheErrors.WithLabelValues(redisBackend, "decode").Inc()
		r.logger.Warn("cache entry undecodable", "key", key, "err", err)
		metrics.CacheMisses.WithLabelValues(redisBackend).Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues(redisBackend).Inc()
	r.logger.Debug("cache hit", "key", key)
	return movies, true
}

func (r *Redis) Set(ctx context.Context, key string, movies []domain.Movie) {
	if movies == nil {
		movies = []domain.Movie{}
	}
	raw, err := json.Marshal(movies)
	if err != nil {
		metrics.CacheErrors.WithLabelValues(redisBackend, "encode").Inc()
		r.logger.Warn("cache entry unencodable", "key", key, "err", err)
		return
	}
	if err := r.api.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues(redisBackend, "set").Inc()
		r.logger.Warn("cache set failed", "key", key, "err", err)
		return
	}
	metrics.CacheSets.WithLabelValues(redisBackend).Inc()
	r.logger.Debug("cache set", "key", key, "movies", len(movies))
}

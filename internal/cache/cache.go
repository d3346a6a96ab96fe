// Package cache stores finished course recommendations in Redis so identical
// requests skip the expensive NLP and LLM pipeline. Cache failures are never
// allowed to fail a request; they only cost the shortcut.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skillbridge/skillbridge/internal/metrics"
)

const keyPrefix = "skillbridge:recommendation:"

// Cache is a Redis-backed recommendation cache. A nil client disables caching
// entirely: every lookup misses and every store is a no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a cache with the given time-to-live for stored entries.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// Key derives the cache key from the normalized inputs, so insignificant
// whitespace and casing differences still hit.
func Key(resumeText, jobDescriptionText string, threshold float64) string {
	combined := fmt.Sprintf("%s|%s|%v",
		strings.ToLower(strings.TrimSpace(resumeText)),
		strings.ToLower(strings.TrimSpace(jobDescriptionText)),
		threshold,
	)
	return keyPrefix + fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))
}

// GetRecommendation returns the cached result for the inputs, or a miss.
func (c *Cache) GetRecommendation(ctx context.Context, resumeText, jobDescriptionText string, threshold float64) (map[string]any, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, Key(resumeText, jobDescriptionText, threshold)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		c.logger.Error("cache retrieval error", zap.Error(err))
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Error("cache entry is not valid json", zap.Error(err))
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return result, true
}

// SetRecommendation stores the result for the inputs, expiring after the
// configured TTL.
func (c *Cache) SetRecommendation(ctx context.Context, resumeText, jobDescriptionText string, threshold float64, result map[string]any) {
	if c == nil || c.client == nil {
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache storage error: result not serializable", zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, Key(resumeText, jobDescriptionText, threshold), raw, c.ttl).Err(); err != nil {
		c.logger.Error("cache storage error", zap.Error(err))
	}
}

package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"blocksentinel/internal/models"
)

// ReportCache holds verification reports between requests. Implementations
// must tolerate concurrent use; a nil cache disables caching entirely.
type ReportCache interface {
	Get(ctx context.Context, key string) (*models.VerificationReport, bool)
	Set(ctx context.Context, key string, report *models.VerificationReport)
}

// A cached report can hide tampering that happened after it was computed,
// so entries never live longer than this regardless of configuration.
const maxCacheTTL = 30 * time.Second

// RedisCache stores reports in redis with a short TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 || ttl > maxCacheTTL {
		ttl = maxCacheTTL
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("verify-cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*models.VerificationReport, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("Verification cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var report models.VerificationReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, false
	}
	return &report, true
}

func (c *RedisCache) Set(ctx context.Context, key string, report *models.VerificationReport) {
	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Debug("Verification cache write failed", zap.Error(err))
	}
}

// Keys carry the head hash, so any accepted transition naturally misses
// the previous entry.
func cacheKey(c *models.Complaint) string {
	return fmt.Sprintf("blocksentinel:verify:%s:%s", c.ID, c.HeadHash)
}

package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adeloyejoshual/Smart-talk-sub001/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisGuard implements Guard with a Redis concurrency cap of one active
// call per payer. The TTL bounds how long a crashed instance can leak a
// slot; a healthy instance always releases on session end.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

const guardKeyPrefix = "call:payer:"

func NewRedisGuard(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisGuard{rdb: rdb, ttl: ttl, log: log}
}

func (g *RedisGuard) Acquire(ctx context.Context, payerID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, g.rdb, guardKeyPrefix+payerID, 1, g.ttl)
}

func (g *RedisGuard) Release(ctx context.Context, payerID string) {
	if err := utils.ReleaseConcurrencyCap(ctx, g.rdb, guardKeyPrefix+payerID); err != nil {
		g.log.Warn("payer guard release failed", "payer_id", payerID, "err", err)
	}
}

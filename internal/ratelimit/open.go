package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type BackendConfig struct {
	Backend       string // memory | redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	CleanupEvery  time.Duration
}

// Open builds the configured limiter. A redis server that does not answer a
// ping within pingTimeout is replaced by the memory limiter.
func Open(ctx context.Context, cfg BackendConfig, pingTimeout time.Duration, log *slog.Logger) Limiter {
	memory := func() Limiter { return NewMemoryLimiter(cfg.TTL, cfg.CleanupEvery) }

	if strings.ToLower(strings.TrimSpace(cfg.Backend)) != "redis" {
		return memory()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := rdb.Ping(pctx).Err(); err != nil {
		log.Warn("redis unreachable; falling back to memory limiter",
			slog.String("addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
		_ = rdb.Close()
		return memory()
	}
	return NewRedisLimiter(rdb, cfg.TTL)
}

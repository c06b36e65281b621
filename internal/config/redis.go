package config

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	applog "gumroad/internal/log"
)

// OpenRedis connects to REDIS_ADDRESS, retrying with capped exponential backoff
// until ctx is done. The lock client shares the connection pool.
func OpenRedis(ctx context.Context, cfg Config) (*redis.Client, *redislock.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil, fmt.Errorf("REDIS_ADDRESS not set")
	}
	var attempt int
	for {
		attempt++
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: 50,
		})
		err := rdb.Ping(ctx).Err()
		if err == nil {
			applog.Background("redis.connected", map[string]any{"addr": cfg.RedisAddr, "attempt": attempt})
			return rdb, redislock.New(rdb), nil
		}
		_ = rdb.Close()

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		applog.BackgroundError("redis.connect.retry", err, map[string]any{"addr": cfg.RedisAddr, "attempt": attempt, "retry_in": sleep.String()})
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, ctx.Err())
		case <-time.After(sleep):
		}
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gumroad/internal/domain"
)

// RedisQuota keeps one counter per account, action and UTC day.
type RedisQuota struct {
	RDB    *redis.Client
	Max    int
	Prefix string
	Now    func() time.Time
}

func NewRedisQuota(rdb *redis.Client, max int) *RedisQuota {
	if max <= 0 {
		max = DefaultDailyProductLimit
	}
	return &RedisQuota{RDB: rdb, Max: max, Prefix: "quota", Now: time.Now}
}

func (q *RedisQuota) Limit() int { return q.Max }

func (q *RedisQuota) key(userID string, action QuotaAction) string {
	return fmt.Sprintf("%s:%s:%s:%s", q.Prefix, action, userID, q.Now().UTC().Format("20060102"))
}

func (q *RedisQuota) Exceeded(ctx context.Context, user *domain.User, action QuotaAction) (bool, error) {
	if user == nil || user.Compliant() {
		return false, nil
	}
	n, err := q.RDB.Get(ctx, q.key(user.ID, action)).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= q.Max, nil
}

func (q *RedisQuota) Record(ctx context.Context, user *domain.User, action QuotaAction) error {
	if user == nil {
		return nil
	}
	k := q.key(user.ID, action)
	pipe := q.RDB.Pipeline()
	pipe.Incr(ctx, k)
	// Outlives the UTC day it counts.
	pipe.Expire(ctx, k, 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"

	applog "gumroad/internal/log"
)

var ErrLocked = errors.New("resource is locked")

// Locker serialises work on one key across workers. release may be called
// more than once, and after the lock already expired.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

func lockKey(sourceProductID int64) string {
	return fmt.Sprintf("lock:duplicate_product:%d", sourceProductID)
}

// RedisLocker holds a redislock lease for the duration of one job. The lease is
// refreshed every TTL/2 until release, so TTL bounds how long a crashed worker
// blocks the product, not how long a copy may take.
type RedisLocker struct {
	Client *redislock.Client
	TTL    time.Duration
}

func NewRedisLocker(c *redislock.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{Client: c, TTL: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.Client.Obtain(ctx, key, l.TTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}
	if err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lock, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			_ = lock.Release(context.WithoutCancel(ctx))
		})
	}, nil
}

func (l *RedisLocker) keepAlive(lock *redislock.Lock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if l.TTL/2 <= 0 {
		return
	}
	t := time.NewTicker(l.TTL / 2)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := lock.Refresh(context.Background(), l.TTL, nil); err != nil {
				applog.BackgroundError("lock.refresh", err, map[string]any{"key": lock.Key()})
				return
			}
		}
	}
}

// LocalLocker is the single-process equivalent of RedisLocker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]struct{}{}}
}

func (l *LocalLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

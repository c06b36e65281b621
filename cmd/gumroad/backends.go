package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/bsm/redislock"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"gumroad/internal/config"
	applog "gumroad/internal/log"
	"gumroad/internal/queue"
	"gumroad/internal/repos"
	"gumroad/internal/services"
	"gumroad/internal/worker"
)

// backends holds the quota, queue and lock implementations selected by config.
type backends struct {
	rdb      *redis.Client
	locks    *redislock.Client
	psClient *pubsub.Client

	quota  services.ProductCreationLimiter
	queue  services.JobQueue
	memory *queue.Memory
	pubsub *queue.PubSub
}

func openBackends(ctx context.Context, cfg config.Config, db *sqlx.DB) (*backends, error) {
	b := &backends{}

	if cfg.QuotaBackend == "redis" || cfg.RedisAddr != "" {
		rdb, locks, err := config.OpenRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.rdb, b.locks = rdb, locks
	}

	switch cfg.QuotaBackend {
	case "redis":
		b.quota = services.NewRedisQuota(b.rdb, cfg.DailyProductLimit)
	default:
		b.quota = services.NewDBQuota(repos.NewProductRepo(db), cfg.DailyProductLimit)
	}

	switch cfg.QueueBackend {
	case "pubsub":
		if err := b.openPubSub(ctx, cfg); err != nil {
			b.Close()
			return nil, err
		}
		b.queue = b.pubsub
	default:
		b.memory = queue.NewMemory(cfg.QueueSize, cfg.WorkerConcurrency, cfg.WorkerRPS)
		b.queue = b.memory
	}

	applog.Background("backends.ready", map[string]any{
		"quota":  cfg.QuotaBackend,
		"queue":  cfg.QueueBackend,
		"redis":  b.rdb != nil,
		"driver": cfg.DBDriver,
	})
	return b, nil
}

func (b *backends) openPubSub(ctx context.Context, cfg config.Config) error {
	client, err := config.NewPubSubClient(ctx, cfg)
	if err != nil {
		return err
	}
	b.psClient = client

	topic := client.Topic(cfg.PubSubTopic)
	sub := client.Subscription(cfg.PubSubSubscription)
	if cfg.PubSubCreateTopic {
		if topic, err = config.CreateTopicIfNotExists(ctx, client, cfg.PubSubTopic); err != nil {
			return fmt.Errorf("pubsub topic: %w", err)
		}
		if sub, err = config.CreateSubscriptionIfNotExists(ctx, client, cfg.PubSubSubscription, topic); err != nil {
			return fmt.Errorf("pubsub subscription: %w", err)
		}
	}
	b.pubsub = queue.NewPubSub(topic, sub, cfg.WorkerConcurrency)
	return nil
}

func (b *backends) locker(cfg config.Config) worker.Locker {
	if b.locks != nil {
		return worker.NewRedisLocker(b.locks, cfg.LockTTL)
	}
	return worker.NewLocalLocker()
}

func (b *backends) newWorker(cfg config.Config, db *sqlx.DB) *worker.DuplicateProductWorker {
	return worker.NewDuplicateProductWorker(repos.NewDuplicationRepo(db), repos.NewUserRepo(db), b.locker(cfg), b.quota)
}

func (b *backends) Close() {
	if b.pubsub != nil {
		b.pubsub.Stop()
	}
	if b.psClient != nil {
		_ = b.psClient.Close()
	}
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	applog "gumroad/internal/log"
	"gumroad/internal/repos"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume duplication jobs from Pub/Sub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(parent context.Context) error {
	cfg, _, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()
	if cfg.QueueBackend != "pubsub" {
		return errors.New("worker requires QUEUE_BACKEND=pubsub; the memory queue runs inside serve")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repos.OpenDB(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	b, err := openBackends(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer b.Close()

	w := b.newWorker(cfg, db)
	applog.Background("worker.start", map[string]any{"subscription": cfg.PubSubSubscription})
	err = b.pubsub.Run(ctx, w.Handler())
	applog.Background("worker.stop", nil)
	return err
}

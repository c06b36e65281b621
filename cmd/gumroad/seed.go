package main

import (
	"context"

	"github.com/spf13/cobra"

	applog "gumroad/internal/log"
	"gumroad/internal/repos"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the schema and demo sellers/products",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := repos.OpenDB(cfg.DBDriver, cfg.DBDSN)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := repos.Seed(ctx, db); err != nil {
				return err
			}
			applog.Background("seed.done", map[string]any{"dsn": cfg.DBDSN})
			return nil
		},
	}
}

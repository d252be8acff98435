// Package main содержит утилиту администрирования Bookworm: миграции схемы
// и создание учётных записей.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/bookworm/internal/config"
	"github.com/mmeshcher/bookworm/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "bookworm-admin",
		Short:        "Administrative tasks for the Bookworm library",
		SilenceUsage: true,
	}

	var dsn string
	root.PersistentFlags().StringVarP(&dsn, "database", "d", "", "database URI (defaults to DATABASE_URI)")

	connect := func(ctx context.Context) (*repository.PostgresRepository, error) {
		if dsn == "" {
			cfg, err := config.ParseEnv()
			if err != nil {
				return nil, err
			}
			dsn = cfg.DatabaseURI
		}
		if dsn == "" {
			return nil, fmt.Errorf("database URI is required: set DATABASE_URI or pass --database")
		}
		return repository.Open(ctx, dsn)
	}

	root.AddCommand(newMigrateCmd(connect), newCreateUserCmd(connect), newSetPasswordCmd(connect))
	return root
}

type connectFunc func(ctx context.Context) (*repository.PostgresRepository, error)

package main

import (
	"github.com/spf13/cobra"

	"github.com/mmeshcher/bookworm/internal/repository"
)

func newMigrateCmd(connect connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repository.Migrate(cmd.Context(), repo.DB()); err != nil {
				return err
			}
			cmd.Println("migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			return repository.MigrationStatus(cmd.Context(), repo.DB(), cmd.OutOrStdout())
		},
	})

	return cmd
}

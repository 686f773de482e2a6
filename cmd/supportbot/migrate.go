package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memohai/supportbot/internal/config"
	"github.com/memohai/supportbot/internal/db"
	"github.com/memohai/supportbot/internal/logger"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the database schema",
	}
	for _, dir := range []db.Direction{db.Up, db.Down} {
		cmd.AddCommand(&cobra.Command{
			Use:   string(dir),
			Short: fmt.Sprintf("Migrate the schema %s", dir),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				logger.Init(cfg.Log.Level, cfg.Log.Format)
				if err := db.Migrate(logger.L, cfg.Postgres, dir); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s\n", dir)
				return nil
			},
		})
	}
	return cmd
}

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/memohai/supportbot/internal/config"
	"github.com/memohai/supportbot/internal/db"
	dbsqlc "github.com/memohai/supportbot/internal/db/sqlc"
	"github.com/memohai/supportbot/internal/logger"
	"github.com/memohai/supportbot/internal/settings"
)

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the bot's runtime settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openSettings(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()
			return printSettings(cmd, svc.Get(cmd.Context()))
		},
	})

	var (
		enabled     bool
		delay       int
		displayName string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Update selected settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req settings.UpsertRequest
			if cmd.Flags().Changed("enabled") {
				req.Enabled = &enabled
			}
			if cmd.Flags().Changed("delay") {
				if delay < 0 {
					return fmt.Errorf("delay must not be negative")
				}
				req.DelaySeconds = &delay
			}
			if cmd.Flags().Changed("display-name") {
				req.DisplayName = &displayName
			}
			svc, cleanup, err := openSettings(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()
			updated, err := svc.Upsert(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("update settings: %w", err)
			}
			return printSettings(cmd, updated)
		},
	}
	set.Flags().BoolVar(&enabled, "enabled", true, "turn auto-replies on or off")
	set.Flags().IntVar(&delay, "delay", settings.DefaultDelaySeconds, "auto-reply delay in seconds")
	set.Flags().StringVar(&displayName, "display-name", "", "name the bot uses for itself")
	cmd.AddCommand(set)
	return cmd
}

func openSettings(cmd *cobra.Command, opts *rootOptions) (*settings.Service, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	conn, err := db.Open(cmd.Context(), cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	cleanup := conn.Close
	svcOpts := settingsOptions(cfg)
	if cfg.Redis.Enabled() {
		cache, err := settings.NewRedisCache(cmd.Context(), cfg.Redis.URL, cfg.Redis.KeyPrefix)
		if err != nil {
			logger.L.Warn("shared settings cache unavailable", slog.Any("error", err))
		} else {
			svcOpts.Shared = cache
			cleanup = func() {
				_ = cache.Close()
				conn.Close()
			}
		}
	}
	return settings.NewService(logger.L, dbsqlc.New(conn), svcOpts), cleanup, nil
}

func printSettings(cmd *cobra.Command, value settings.BotSettings) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

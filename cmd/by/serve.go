package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/blockyard/internal/attachment"
	"github.com/zulandar/blockyard/internal/config"
	"github.com/zulandar/blockyard/internal/dashboard"
	"github.com/zulandar/blockyard/internal/db"
	"github.com/zulandar/blockyard/internal/telegraph"
	discordadapter "github.com/zulandar/blockyard/internal/telegraph/discord"
	slackadapter "github.com/zulandar/blockyard/internal/telegraph/slack"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bot and dashboard",
		Long: `Connects to the configured chat platform (Slack or Discord) and runs the
block workflows. The read-only dashboard API is started alongside when
dashboard.enabled is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Chat.Platform == "" && !cfg.Dashboard.Enabled {
		return fmt.Errorf("serve: nothing to run in %s (set chat.platform or dashboard.enabled)", configPath)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 2)
	running := 0

	if cfg.Dashboard.Enabled {
		running++
		go func() {
			errCh <- dashboard.Start(ctx, dashboard.StartOpts{
				DB:              gormDB,
				Port:            cfg.Dashboard.Port,
				RateLimitPerSec: cfg.Dashboard.RateLimitPerSec,
				Out:             cmd.OutOrStdout(),
			})
		}()
	}

	if cfg.Chat.Platform != "" {
		store, err := attachment.New(cfg.Storage.Dir)
		if err != nil {
			return err
		}
		adapter, err := createAdapter(cfg)
		if err != nil {
			return err
		}
		daemon, err := telegraph.NewDaemon(telegraph.DaemonOpts{
			DB:          gormDB,
			Config:      cfg,
			Adapter:     adapter,
			Attachments: store,
			Out:         cmd.OutOrStdout(),
		})
		if err != nil {
			return err
		}
		running++
		go func() { errCh <- daemon.Run(ctx) }()
	}

	// The first component to stop takes the others down with it.
	var firstErr error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
	}
	return firstErr
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (telegraph.Adapter, error) {
	switch cfg.Chat.Platform {
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Chat.Slack.AppToken,
			BotToken:  cfg.Chat.Slack.BotToken,
			ChannelID: cfg.Chat.Channel,
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Chat.Discord.BotToken,
			ChannelID: cfg.Chat.Channel,
		})
	default:
		return nil, fmt.Errorf("serve: unsupported platform %q", cfg.Chat.Platform)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/TrackBot/config"
	"github.com/BearBump/TrackBot/internal/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load(".env")

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "trackbot",
		Short:        "Telegram bot that watches SPX shipments",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("configPath"), "path to the YAML config")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(lookupCmd(&configPath))
	return root
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, the watch loop and the ops server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Telegram.Token == "" {
				return errors.Errorf("telegram token is required (set %s)", config.EnvBotToken)
			}
			log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			err = RunBot(ctx, cfg, defaultAppFactories(), log)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("bot failed")
				return err
			}
			return nil
		},
	}
}

func lookupCmd(configPath *string) *cobra.Command {
	var timeline int
	cmd := &cobra.Command{
		Use:   "lookup <code>",
		Short: "Print the latest state of one shipment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			log := logger.NewWithWriter(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, cmd.ErrOrStderr())

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.SPX.Timeout()+5*time.Second)
			defer cancel()

			out, err := RunLookup(ctx, cfg, defaultAppFactories(), args[0], timeline, log)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().IntVar(&timeline, "timeline", 0, "print up to n recent events instead of the latest card")
	return cmd
}

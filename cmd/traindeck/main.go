package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/traindeck-dev/traindeck"
	"github.com/traindeck-dev/traindeck/internal/tracing"
	"github.com/traindeck-dev/traindeck/pkg/config"
	"github.com/traindeck-dev/traindeck/pkg/observability"
)

// Version is set via ldflags.
var Version = "dev"

var configFile string

func main() {
	root := &cobra.Command{
		Use:     "traindeck",
		Short:   "Session continuity service for the training simulator",
		Version: Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "Path to YAML config file")

	root.AddCommand(serveCmd(), cleanupCmd(), sessionsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recovery service with its observability endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log := slog.Default()
			log.Info("starting traindeck", "version", Version, "port", cfg.Server.Port)

			if err := tracing.Init(tracing.Config{
				Enabled:  cfg.Tracing.Enabled,
				Exporter: cfg.Tracing.Exporter,
				Endpoint: cfg.Tracing.Endpoint,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}

			observability.InitMetrics()
			checker := observability.InitHealthChecker()
			checker.RegisterCheck(observability.PingCheck())

			rt, err := traindeck.Open(cfg)
			if err != nil {
				return err
			}
			checker.RegisterCheck(observability.StoreCheck(rt.PingStore))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := rt.Start(ctx); err != nil {
				_ = rt.Close()
				return fmt.Errorf("start runtime: %w", err)
			}

			obsServer := observability.NewServer(cfg.Server.Port)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("observability server listening", "port", cfg.Server.Port)
				return obsServer.Start()
			})
			g.Go(func() error {
				<-ctx.Done()
				log.Info("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := obsServer.Shutdown(shutdownCtx); err != nil {
					log.Warn("observability server shutdown", "error", err)
				}
				if err := rt.Close(); err != nil {
					log.Warn("runtime close", "error", err)
				}
				return tracing.Shutdown(shutdownCtx)
			})

			if err := g.Wait(); err != nil && ctx.Err() == nil {
				return err
			}
			log.Info("stopped")
			return nil
		},
	}
}

func cleanupCmd() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired and corrupt recovery snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			rt, err := traindeck.Open(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.Coordinator.CleanupExpiredSnapshots(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			fmt.Printf("cleaned %d snapshot(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Delete snapshots older than this (default: configured snapshot max age)")
	return cmd
}

func sessionsCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recoverable sessions for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			rt, err := traindeck.Open(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			snaps := rt.Coordinator.ListRecoverableSessions(cmd.Context(), userID)
			if len(snaps) == 0 {
				fmt.Println("no recoverable sessions")
				return nil
			}
			for _, s := range snaps {
				fmt.Printf("%s  reason=%s  messages=%d  taken=%s\n",
					s.SessionID, s.RecoveryMetadata.SnapshotReason, len(s.ChatHistory), s.Timestamp.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID to list sessions for")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bsrbot/bsr/internal/application"
	"github.com/bsrbot/bsr/internal/infrastructure/config"
	"github.com/bsrbot/bsr/internal/infrastructure/logger"
)

const (
	appName    = "bsr"
	appVersion = "0.3.0"
)

func main() {
	// .env is optional; real deployments configure via config.yaml or BSR_* env
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "BSR article and video summarization service",
		Long:  "BSR ingests article and YouTube links, produces structured summaries and keeps them in sync with a Karakeep bookmark service.",
		RunE:  runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the full service (HTTP API + Telegram bot + sync scheduler)",
		RunE:  runServe,
	})

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full bookmark sync and exit",
		RunE:  runSync,
	}
	syncCmd.Flags().Int64("user", 0, "user ID for inbound sync (0 skips inbound)")
	syncCmd.Flags().Int("limit", 0, "maximum items per direction (0 = unlimited)")
	syncCmd.Flags().Bool("force", false, "re-push already synced summaries")
	syncCmd.Flags().Bool("reset", false, "drop stored sync linkages before running")
	rootCmd.AddCommand(syncCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func bootstrap(format string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if format == "" {
		format = cfg.Log.Format
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     format,
		OutputPath: "stdout",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap("")
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting BSR",
		zap.String("version", appVersion),
		zap.String("mode", cfg.API.Mode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize application", zap.Error(err))
		return err
	}

	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		return err
	}

	log.Info("Application stopped")
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap("console")
	if err != nil {
		return err
	}
	defer log.Sync()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var userID *int64
	if id, _ := cmd.Flags().GetInt64("user"); id != 0 {
		userID = &id
	}
	limit, _ := cmd.Flags().GetInt("limit")
	force, _ := cmd.Flags().GetBool("force")

	if reset, _ := cmd.Flags().GetBool("reset"); reset {
		deleted, err := app.SyncService().ResetSyncRecords(ctx, "")
		if err != nil {
			return fmt.Errorf("failed to reset sync records: %w", err)
		}
		fmt.Printf("Reset %d sync records\n", deleted)
	}

	full := app.SyncService().RunFullSync(ctx, userID, limit, force)

	fmt.Printf("Outbound: synced %d, failed %d, skipped %d\n",
		full.Outbound.Synced, full.Outbound.Failed, full.Outbound.TotalSkipped())
	if full.Inbound.Skipped {
		fmt.Printf("Inbound:  skipped (%s)\n", full.Inbound.SkippedReason)
	} else {
		fmt.Printf("Inbound:  synced %d, failed %d, skipped %d\n",
			full.Inbound.Synced, full.Inbound.Failed, full.Inbound.TotalSkipped())
	}
	fmt.Printf("Status:   checked %d, pushed %d, pulled %d\n",
		full.Status.Checked, full.Status.BSRToRemoteUpdates, full.Status.RemoteToBSRUpdates)

	for _, e := range append(full.Outbound.Errors, full.Inbound.Errors...) {
		fmt.Printf("  error: %s (retryable=%v)\n", e.Message, e.Retryable)
	}
	if n := len(full.Outbound.Errors) + len(full.Inbound.Errors) + len(full.Status.Errors); n > 0 {
		return fmt.Errorf("sync finished with %d errors", n)
	}
	return nil
}

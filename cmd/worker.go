package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/salesdesk/crm-management/internal"
	"github.com/salesdesk/crm-management/internal/auth"
	authpostgres "github.com/salesdesk/crm-management/internal/auth/postgres"
	"github.com/salesdesk/crm-management/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start and manage background workers, such as the expired refresh-token sweeper.`,
}

// Sweeper worker: periodic cleanup of expired refresh tokens. The sweep is
// best effort; token verification enforces expiry regardless.
var sweeperWorkerCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Run the refresh-token sweeper on its schedule",
	Run: func(cmd *cobra.Command, args []string) {
		startSweeperWorker()
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single refresh-token sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		sweeper, cleanup, err := buildSweeper()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		removed, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d expired refresh tokens\n", removed)
		return nil
	},
}

func startSweeperWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !config.Sweeper.Enabled {
		fmt.Fprintln(os.Stderr, "sweeper is disabled in configuration")
		os.Exit(1)
	}

	logger.Init(appEnv())
	lg := logger.L()

	sweeper, cleanup, err := buildSweeperWith(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize sweeper: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	scheduler := cron.New()
	_, err = scheduler.AddFunc(config.Sweeper.Schedule, func() {
		ctx, cancel := internal.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := sweeper.Sweep(ctx); err != nil {
			lg.Warn("scheduled sweep failed", "error", err)
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid sweeper schedule %q: %v\n", config.Sweeper.Schedule, err)
		os.Exit(1)
	}

	scheduler.Start()
	lg.Info("sweeper worker started", "schedule", config.Sweeper.Schedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	lg.Info("received signal, shutting down sweeper", "signal", sig.String())

	// Stop returns once in-flight jobs finish.
	<-scheduler.Stop().Done()
	lg.Info("sweeper worker stopped")
}

func buildSweeper() (*auth.Sweeper, func(), error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(appEnv())
	return buildSweeperWith(config)
}

func buildSweeperWith(config *internal.Config) (*auth.Sweeper, func(), error) {
	lg := logger.L()

	sqlDB, gormDB, err := initDB(config.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	repo := authpostgres.NewRepository(gormDB, lg)
	cleanup := func() {
		if err := sqlDB.Close(); err != nil {
			lg.Error("database close error", "error", err)
		}
	}
	return auth.NewSweeper(repo, lg), cleanup, nil
}

func init() {
	workerCmd.AddCommand(sweeperWorkerCmd)

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(sweepCmd)
}

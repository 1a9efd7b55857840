package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-clinic/internal/backup"
	"github.com/hugh/go-clinic/internal/database"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/notify"
	"github.com/hugh/go-clinic/internal/tasks"
	"github.com/hugh/go-clinic/pkg/config"
	"github.com/hugh/go-clinic/pkg/metrics"
	"github.com/hugh/go-clinic/pkg/queue"
	"github.com/hugh/go-clinic/pkg/util"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting go-clinic worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	stores, err := backup.Stores(ctx, cfg)
	if err != nil {
		logger.Error("failed to open backup storage", "error", err)
		os.Exit(1)
	}
	encryptor, err := backup.Encryptor(cfg, logger)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		os.Exit(1)
	}
	backups := backup.NewService(db, backup.Options{
		Stores:    stores,
		Encryptor: encryptor,
		Metrics:   metrics.New(),
		Logger:    logger,
	})

	// Create Asynq server
	srv := queue.NewServer(&cfg.Redis, 10)

	// Create task handler. The worker is the process that actually delivers
	// mail, so it uses the direct mailer rather than the queue.
	mailer := notify.NewLogMailer(logger, cfg.Mail.From)
	handler := tasks.NewHandler(db, logger, backups, mailer, models.BackupType(cfg.Backup.DefaultType))

	// Register handlers
	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	// Nightly backups for every organization
	scheduler := queue.NewScheduler(&cfg.Redis)
	schedule, err := tasks.RegisterBackupSchedule(scheduler, cfg.Backup.Cron, time.Now())
	if err != nil {
		logger.Error("failed to register backup schedule", "cron", cfg.Backup.Cron, "error", err)
		os.Exit(1)
	}
	logger.Info("backup schedule registered",
		"cron", cfg.Backup.Cron,
		"entry_id", schedule.EntryID,
		"next_run", schedule.NextRun,
	)

	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Handle shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down worker...")
		scheduler.Shutdown()
		srv.Shutdown()
		cancel()
	}()

	logger.Info("worker started, waiting for tasks...")

	// Start the server
	if err := srv.Run(mux); err != nil {
		logger.Error("worker error", "error", err)
	}

	// Wait for context cancellation
	<-ctx.Done()

	// Close database connection
	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("worker stopped")
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-clinic/internal/api"
	"github.com/hugh/go-clinic/internal/api/handlers"
	"github.com/hugh/go-clinic/internal/auth"
	"github.com/hugh/go-clinic/internal/backup"
	"github.com/hugh/go-clinic/internal/database"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/integrations"
	"github.com/hugh/go-clinic/internal/notify"
	"github.com/hugh/go-clinic/internal/tasks"
	"github.com/hugh/go-clinic/pkg/config"
	"github.com/hugh/go-clinic/pkg/metrics"
	"github.com/hugh/go-clinic/pkg/queue"
	"github.com/hugh/go-clinic/pkg/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
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

	logger.Info("starting go-clinic server",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
	)

	ctx := context.Background()

	// Connect to database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if cfg.Database.AutoMigrate || cfg.Server.IsDevelopment() {
		if err := database.AutoMigrate(db); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}
	if err := database.SeedAddOns(ctx, db); err != nil {
		logger.Error("failed to seed add-on catalog", "error", err)
		os.Exit(1)
	}

	// Connect to Redis
	var redisClient *redis.Client
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("failed to connect to Redis, running without queue", "error", err)
		client.Close()
	} else {
		redisClient = client
	}

	// Background jobs go through asynq when Redis is up. Without it mail is
	// logged and CLOUD backups run inline.
	var (
		asynqClient *asynq.Client
		inspector   *asynq.Inspector
		mailer      notify.Mailer = notify.NewLogMailer(logger, cfg.Mail.From)
		backupQueue handlers.BackupEnqueuer
	)
	if redisClient != nil {
		asynqClient = queue.NewClient(&cfg.Redis)
		inspector = queue.NewInspector(&cfg.Redis)
		mailer = tasks.NewQueueMailer(asynqClient)
		backupQueue = tasks.NewBackupQueue(asynqClient)
	}

	m := metrics.New()

	// Backups
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
	backupOpts := backup.Options{
		Stores:      stores,
		Encryptor:   encryptor,
		CooldownTTL: cfg.Backup.Cooldown(),
		Metrics:     m,
		Logger:      logger,
	}
	if redisClient != nil {
		backupOpts.Cooldown = backup.NewRedisCooldown(redisClient, cfg.Backup.Cooldown())
	}
	backups := backup.NewService(db, backupOpts)

	// Initialize services
	links := notify.Templates{BaseURL: cfg.Mail.BaseURL}
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService, mailer, links, logger)

	if cfg.Payment.WebhookSecret == "" {
		logger.Warn("RAZORPAY_WEBHOOK_SECRET not set, add-on webhooks will be rejected")
	}

	routerCfg := api.RouterConfig{
		DB:                db,
		Logger:            logger,
		Metrics:           m,
		AuthService:       authService,
		Resolver:          auth.NewResolver(db, jwtService),
		Mailer:            mailer,
		MailLinks:         links,
		Backups:           backups,
		BackupQueue:       backupQueue,
		DefaultBackupType: models.BackupType(cfg.Backup.DefaultType),
		AI:                integrations.NewStubAI(cfg.AI.Latency()),
		Gateway:           integrations.NewStubGateway(cfg.Payment.KeyID),
		WebhookSecret:     cfg.Payment.WebhookSecret,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RateLimitReqs:     cfg.RateLimit.Requests,
		RateLimitSecs:     cfg.RateLimit.WindowSeconds,
		SecureCookies:     !cfg.Server.IsDevelopment(),
	}
	// Leave the interfaces nil rather than holding typed nil pointers.
	if redisClient != nil {
		routerCfg.Redis = redisClient
		routerCfg.QueueInspector = inspector
	}

	// Create router
	router := api.NewRouter(routerCfg)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if inspector != nil {
		inspector.Close()
	}
	if asynqClient != nil {
		asynqClient.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	// Close database connection
	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("server stopped")
}

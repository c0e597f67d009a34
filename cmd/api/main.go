package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/edugrade-api/internal/config"
	"github.com/noah-isme/edugrade-api/internal/database"
	"github.com/noah-isme/edugrade-api/internal/handler"
	"github.com/noah-isme/edugrade-api/internal/middleware"
	"github.com/noah-isme/edugrade-api/internal/repository"
	"github.com/noah-isme/edugrade-api/internal/router"
	"github.com/noah-isme/edugrade-api/internal/service"
	"github.com/noah-isme/edugrade-api/pkg/ai"
	cloud "github.com/noah-isme/edugrade-api/pkg/cloudinary"
	"github.com/noah-isme/edugrade-api/pkg/storage"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "edugrade-api").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL, cfg.AppName, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis not configured, dashboard cache and cross-replica notifications disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()
	}

	fileStorage, filesDir := buildStorage(cfg, logger)
	analyzer := buildAnalyzer(cfg, logger)
	validate := validator.New(validator.WithRequiredStructEnabled())

	submissionRepo := repository.NewSubmissionRepository(db)
	if cfg.UsesMemoryStore() {
		logger.Warn().Msg("submissions are kept in memory and lost on restart")
		submissionRepo = repository.NewMemorySubmissionRepository()
	}
	profileRepo := repository.NewProfileRepository(db)

	var identityProvider service.IdentityProvider
	var profileService service.ProfileService
	switch cfg.AuthMode {
	case service.IdentityModeSession:
		identityProvider = service.NewSessionIdentityProvider(cfg.JWTSecret, profileRepo)
		profileService = service.NewProfileService(profileRepo, validate, logger)
	default:
		identityProvider = service.NewDemoIdentityProvider()
	}
	resolver := service.NewIdentityResolver(identityProvider, logger)

	dashboardService := service.NewDashboardService(submissionRepo, redisClient, cfg.StatsCacheTTL, logger)
	submissionService := service.NewSubmissionService(submissionRepo, validate, dashboardService, logger)
	notificationService := service.NewNotificationService(repository.NewNotificationRepository(db), redisClient, cfg.NotificationChannel, natsConn, validate, logger)
	activityService := service.NewActivityService(repository.NewActivityLogRepository(db), validate, logger)
	reviewService := service.NewReviewService(submissionService, activityService, validate, logger)
	uploadService := service.NewUploadService(fileStorage, cfg.UploadMaxSizeMB, logger)
	workflow := service.NewAnalysisWorkflow(submissionService, uploadService, analyzer, notificationService, validate, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	notificationService.Start(rootCtx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{
		Logger:        &logger,
		AllowOrigins:  cfg.AllowOrigins,
		AccessLogging: cfg.AccessLogging,
	})
	router.Register(app, cfg, router.Dependencies{
		Resolver: resolver,
		SubmissionHandler: handler.NewSubmissionHandler(workflow, submissionService, reviewService, validate,
			middleware.RateLimit("submission-retry", cfg.RetryRateLimit, cfg.RetryRateWindow), logger),
		DashboardHandler:    handler.NewDashboardHandler(dashboardService, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger, cfg.SSEKeepAlive),
		ProfileHandler:      handler.NewProfileHandler(profileService, logger),
		ActivityHandler:     handler.NewActivityHandler(activityService, logger),
		FilesDir:            filesDir,
		FilesBase:           cfg.StoragePublicBase,
	})

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress()).Str("auth_mode", cfg.AuthMode).Str("ai_provider", cfg.AIProvider).Msg("server starting")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-rootCtx.Done()
	waitForShutdown(app, workflow, cfg, logger)
}

func buildStorage(cfg config.Config, logger zerolog.Logger) (service.FileStorage, string) {
	cloudCfg := cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}
	if cloudCfg.Configured() {
		uploader, err := cloud.New(cloudCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloudinary client")
		}
		return uploader, ""
	}

	local, err := storage.NewLocal(cfg.StorageDir, cfg.StoragePublicBase, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare local storage")
	}
	logger.Info().Str("dir", local.Dir()).Msg("cloudinary not configured, storing submissions on local disk")
	return local, local.Dir()
}

func buildAnalyzer(cfg config.Config, logger zerolog.Logger) ai.Analyzer {
	if cfg.AIProvider != "openai" {
		return ai.NewDemoAnalyzer(cfg.DemoAnalysisLatency)
	}

	analyzer, err := ai.NewOpenAIAnalyzer(ai.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.AIModel,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create analyzer")
	}
	return analyzer
}

func waitForShutdown(app *fiber.App, workflow service.AnalysisWorkflow, cfg config.Config, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := workflow.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("in-flight analyses cancelled")
	}

	logger.Info().Msg("server stopped")
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/amillerrr/lms-catalog/internal/api"
	"github.com/amillerrr/lms-catalog/internal/auth"
	"github.com/amillerrr/lms-catalog/internal/catalog"
	"github.com/amillerrr/lms-catalog/internal/config"
	"github.com/amillerrr/lms-catalog/internal/events"
	"github.com/amillerrr/lms-catalog/internal/health"
	"github.com/amillerrr/lms-catalog/internal/logger"
	"github.com/amillerrr/lms-catalog/internal/observability"
	"github.com/amillerrr/lms-catalog/internal/storage"
	"github.com/amillerrr/lms-catalog/pkg/models"
)

const (
	ServiceName           = "lms-api"
	ShutdownTimeout       = 30 * time.Second
	TracerShutdownTimeout = 5 * time.Second
	AWSConfigTimeout      = 10 * time.Second
)

func main() {
	// Load .env file if present
	envErr := godotenv.Load()

	// Load configuration
	cfg, err := config.LoadAPI()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	if envErr != nil {
		log.Info("No .env file found, using system environment variables")
	}

	// Initialize tracer
	shutdownTracer, err := observability.InitTracer(context.Background(), ServiceName, cfg)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	// Initialize AWS clients
	ctx, cancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.Error("Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	s3Client := s3.NewFromConfig(awsCfg)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)

	// Initialize repositories
	courseRepo := storage.NewCourseRepository(dynamoClient, cfg.AWS.DynamoDBTable)
	videoRepo := storage.NewVideoRepository(dynamoClient, cfg.AWS.DynamoDBTable)
	adminRepo := storage.NewAdminRepository(dynamoClient, cfg.AWS.DynamoDBTable)
	blobStore := storage.NewBlobStore(s3Client, cfg.AWS.Bucket, cfg.AWS.Region, cfg.AWS.CDNDomain)
	log.Info("Storage initialized", "table", cfg.AWS.DynamoDBTable, "bucket", cfg.AWS.Bucket)

	// Catalog change events are optional
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AWS.SQSQueueURL != "" {
		publisher = events.NewSQSPublisher(sqsClient, cfg.AWS.SQSQueueURL, log)
		log.Info("Catalog events enabled", "queue", cfg.AWS.SQSQueueURL)
	}

	catalogService := catalog.NewService(catalog.Config{
		Courses: courseRepo,
		Videos:  videoRepo,
		Blobs:   blobStore,
		Events:  publisher,
		Logger:  log,
	})

	if err := bootstrapAdmin(ctx, cfg, adminRepo, log); err != nil {
		log.Error("Failed to create bootstrap admin", "error", err)
		os.Exit(1)
	}

	// Initialize JWT service
	jwtSecret, err := cfg.GetJWTSecret()
	if err != nil {
		log.Error("Failed to get JWT secret", "error", err)
		os.Exit(1)
	}
	jwtService, err := auth.NewJWTService(jwtSecret, auth.WithTTL(cfg.API.TokenTTL))
	if err != nil {
		log.Error("Failed to create JWT service", "error", err)
		os.Exit(1)
	}

	// Initialize rate limiter
	rateLimiter := auth.NewRateLimiter(auth.DefaultRateLimiterConfig())

	// Initialize health checker
	healthConfig := health.DefaultConfig(ServiceName, log)
	healthConfig.S3Client = s3Client
	healthConfig.S3Bucket = cfg.AWS.Bucket
	healthConfig.DynamoDBClient = dynamoClient
	healthConfig.DynamoDBTable = cfg.AWS.DynamoDBTable
	healthConfig.SQSClient = sqsClient
	healthConfig.SQSQueueURL = cfg.AWS.SQSQueueURL
	healthChecker := health.NewChecker(healthConfig)

	// Create and start server
	server, err := api.NewServer(&api.ServerConfig{
		Config:        cfg,
		Logger:        log,
		Catalog:       catalogService,
		Admins:        adminRepo,
		JWTService:    jwtService,
		RateLimiter:   rateLimiter,
		HealthChecker: healthChecker,
	})
	if err != nil {
		log.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	ctx, cancel = context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server shutdown complete")
}

// bootstrapAdmin creates the configured admin when it does not exist yet.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, repo *storage.AdminRepository, log *slog.Logger) error {
	username, password, ok := cfg.BootstrapAdmin()
	if !ok {
		log.Warn("No bootstrap admin configured")
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	err = repo.CreateAdmin(ctx, &models.Admin{Username: username, PasswordHash: hash})
	switch {
	case errors.Is(err, storage.ErrAdminExists):
		return nil
	case err != nil:
		return err
	}
	log.Info("Bootstrap admin created", "username", username)
	return nil
}

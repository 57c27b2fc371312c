package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/amillerrr/lms-catalog/internal/catalog"
	"github.com/amillerrr/lms-catalog/internal/config"
	"github.com/amillerrr/lms-catalog/internal/events"
	"github.com/amillerrr/lms-catalog/internal/health"
	"github.com/amillerrr/lms-catalog/internal/logger"
	"github.com/amillerrr/lms-catalog/internal/observability"
	"github.com/amillerrr/lms-catalog/internal/storage"
)

const (
	ServiceName           = "lms-worker"
	AWSConfigTimeout      = 10 * time.Second
	ShutdownTimeout       = 5 * time.Second
	TracerShutdownTimeout = 5 * time.Second
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.LoadWorker()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	if envErr != nil {
		log.Info("No .env file found, relying on system ENV variables")
	}

	// Initialize tracing
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

	// AWS clients
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

	// the reconciler never publishes, so events stay a no-op here
	service := catalog.NewService(catalog.Config{
		Courses: storage.NewCourseRepository(dynamoClient, cfg.AWS.DynamoDBTable),
		Videos:  storage.NewVideoRepository(dynamoClient, cfg.AWS.DynamoDBTable),
		Blobs:   storage.NewBlobStore(s3Client, cfg.AWS.Bucket, cfg.AWS.Region, cfg.AWS.CDNDomain),
		Logger:  log,
	})

	consumer := events.NewConsumer(events.ConsumerConfig{
		Client:        sqsClient,
		QueueURL:      cfg.AWS.SQSQueueURL,
		Handler:       events.HandlerFunc(service.Reconcile),
		MaxConcurrent: cfg.Worker.MaxConcurrent,
		Logger:        log,
	})

	healthConfig := newHealthConfig(cfg, s3Client, dynamoClient, sqsClient, log)
	metricsServer := startMetricsServer(cfg.Worker.MetricsPort, health.NewChecker(healthConfig), log)

	// Graceful shutdown
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer.Run(runCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shutdown metrics server", "error", err)
	}
	log.Info("Worker shutdown complete")
}

// newHealthConfig checks every backend the reconciler touches, including
// the bucket it deletes orphaned blobs from.
func newHealthConfig(cfg *config.Config, s3Client health.S3Client, dynamoClient health.DynamoDBClient, sqsClient health.SQSClient, log *slog.Logger) *health.Config {
	healthConfig := health.DefaultConfig(ServiceName, log)
	healthConfig.S3Client = s3Client
	healthConfig.S3Bucket = cfg.AWS.Bucket
	healthConfig.DynamoDBClient = dynamoClient
	healthConfig.DynamoDBTable = cfg.AWS.DynamoDBTable
	healthConfig.SQSClient = sqsClient
	healthConfig.SQSQueueURL = cfg.AWS.SQSQueueURL
	return healthConfig
}

func startMetricsServer(port string, checker *health.Checker, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", checker.Handler())
	mux.HandleFunc("GET /health/deep", checker.DeepHandler())

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting metrics server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server error", "error", err)
		}
	}()
	return server
}

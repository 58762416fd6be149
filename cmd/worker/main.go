package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amillerrr/video-ingest/internal/config"
	"github.com/amillerrr/video-ingest/internal/health"
	"github.com/amillerrr/video-ingest/internal/logger"
	"github.com/amillerrr/video-ingest/internal/observability"
	"github.com/amillerrr/video-ingest/internal/pipeline"
	"github.com/amillerrr/video-ingest/internal/scratch"
	"github.com/amillerrr/video-ingest/internal/storage"
	"github.com/amillerrr/video-ingest/internal/worker"
)

// Timeouts
const (
	AWSConfigTimeout = 10 * time.Second
	ShutdownTimeout  = 5 * time.Second
)

const serviceName = "media-worker"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, relying on system ENV variables")
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Observability.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		logger.Error(context.Background(), log, "Worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	shutdownTracer, err := observability.InitTracer(context.Background(), serviceName, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error(context.Background(), log, "Failed to shutdown tracer", "error", err)
		}
	}()

	awsCtx, cancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
	defer cancel()
	awsCfg, err := storage.LoadAWSConfig(awsCtx, cfg)
	if err != nil {
		return err
	}

	s3Client := storage.NewS3Client(awsCfg, cfg.AWS)
	sqsClient := sqs.NewFromConfig(awsCfg)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	videoRepo, err := storage.NewVideoRepository(dynamoClient, cfg.AWS.DynamoDBTable)
	if err != nil {
		return fmt.Errorf("failed to initialize video repository: %w", err)
	}

	gateway := storage.NewGateway(s3Client, cfg.AWS.RawBucket, cfg.AWS.ProcessedBucket, log)
	orchestrator, toolchain := pipeline.NewFromConfig(cfg, gateway, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// No job is running yet, so anything under the scratch root is stale.
	if _, err := scratch.Sweep(ctx, cfg.Pipeline.ScratchDir, log); err != nil {
		logger.Warn(ctx, log, "Failed to sweep scratch root", "error", err, "cleanup_warning", true)
	}

	healthConfig := health.DefaultConfig(serviceName, log)
	healthConfig.S3Client = s3Client
	healthConfig.S3Bucket = cfg.AWS.ProcessedBucket
	healthConfig.SQSClient = sqsClient
	healthConfig.SQSQueueURL = cfg.AWS.SQSQueueURL
	healthConfig.DynamoClient = dynamoClient
	healthConfig.DynamoTable = cfg.AWS.DynamoDBTable
	healthConfig.Toolchain = toolchain
	checker := health.NewChecker(healthConfig)

	metricsServer := newMetricsServer(cfg.Worker.MetricsPort, checker)
	go func() {
		logger.Info(ctx, log, "Starting metrics server", "port", cfg.Worker.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, log, "Metrics server error", "error", err)
		}
	}()

	w := worker.New(&worker.Config{
		SQSClient:         sqsClient,
		QueueURL:          cfg.AWS.SQSQueueURL,
		Processor:         orchestrator,
		Repository:        videoRepo,
		MaxConcurrentJobs: cfg.Worker.MaxConcurrentJobs,
		JobTimeout:        cfg.Pipeline.JobTimeout,
		VisibilityTimeout: worker.VisibilityTimeout(cfg.Pipeline.JobTimeout, cfg.Toolchain.WaitBudget()),
		Logger:            log,
	})

	logger.Info(ctx, log, "Worker starting",
		"environment", cfg.Environment,
		"scratchDir", cfg.Pipeline.ScratchDir,
		"processedBucket", cfg.AWS.ProcessedBucket,
	)
	w.Run(ctx)
	logger.Info(context.Background(), log, "Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), log, "Failed to shutdown metrics server", "error", err)
	}

	return nil
}

func newMetricsServer(port int, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", checker.Handler())
	mux.HandleFunc("/health/deep", checker.DeepHandler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

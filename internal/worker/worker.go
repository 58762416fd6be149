package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/video-ingest/internal/metrics"
	"github.com/amillerrr/video-ingest/pkg/models"
)

// SQS configuration constants
const (
	SQSMaxMessages     = 1
	SQSWaitTimeSeconds = 20
	RetryBackoffPeriod = 5 * time.Second

	// DefaultVisibilityTimeout is used when no job timeout is configured.
	DefaultVisibilityTimeout = 30 * time.Minute
	// MaxVisibilityTimeout is the SQS upper limit.
	MaxVisibilityTimeout = 12 * time.Hour
	// visibilityMargin covers outcome recording and message deletion.
	visibilityMargin = time.Minute
)

var tracer = otel.Tracer("media-worker")

// SQSAPI is the subset of the SQS client the worker uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Processor runs the pipeline for one job.
type Processor interface {
	Process(ctx context.Context, job models.JobRequest) (*models.ArtifactSet, error)
}

// Repository records job outcomes against the video record.
type Repository interface {
	MarkProcessing(ctx context.Context, job *models.JobRequest) error
	CompleteProcessing(ctx context.Context, videoID string, artifacts *models.ArtifactSet) error
	FailProcessing(ctx context.Context, videoID string, stage models.Stage, errorMessage string) error
}

// Config holds worker dependencies.
type Config struct {
	SQSClient         SQSAPI
	QueueURL          string
	Processor         Processor
	Repository        Repository
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	// VisibilityTimeout hides a received message while its job runs. Zero
	// derives it from JobTimeout.
	VisibilityTimeout time.Duration
	Logger            *slog.Logger
}

// Worker consumes job messages from SQS and runs the pipeline for each.
type Worker struct {
	sqsClient     SQSAPI
	queueURL      string
	processor     Processor
	repo          Repository
	maxConcurrent int
	jobTimeout    time.Duration
	visibility    int32
	log           *slog.Logger
}

// VisibilityTimeout returns how long a received message must stay hidden so
// that SQS does not redeliver it while its job can still be running: the job
// timeout plus the toolchain wait budget and a margin for recording the
// outcome, capped at the SQS limit.
func VisibilityTimeout(jobTimeout, toolchainWait time.Duration) time.Duration {
	if jobTimeout <= 0 {
		jobTimeout = DefaultVisibilityTimeout
	}
	return min(jobTimeout+max(toolchainWait, 0)+visibilityMargin, MaxVisibilityTimeout)
}

// New creates a new Worker with the given configuration.
func New(cfg *Config) *Worker {
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = VisibilityTimeout(cfg.JobTimeout, 0)
	}
	visibility = min(visibility, MaxVisibilityTimeout)

	return &Worker{
		sqsClient:     cfg.SQSClient,
		queueURL:      cfg.QueueURL,
		processor:     cfg.Processor,
		repo:          cfg.Repository,
		maxConcurrent: max(cfg.MaxConcurrentJobs, 1),
		jobTimeout:    cfg.JobTimeout,
		visibility:    int32((visibility + time.Second - 1) / time.Second),
		log:           cfg.Logger,
	}
}

// Run polls the queue and blocks until the context is cancelled and all
// in-progress jobs have returned.
func (w *Worker) Run(ctx context.Context) {
	w.log.InfoContext(ctx, "Starting queue polling",
		"queueURL", w.queueURL,
		"maxConcurrent", w.maxConcurrent,
		"visibilityTimeoutSeconds", w.visibility,
	)

	sem := make(chan struct{}, w.maxConcurrent)
	var wg sync.WaitGroup
	defer func() {
		w.log.InfoContext(ctx, "Waiting for in-progress jobs to complete...")
		wg.Wait()
		w.log.InfoContext(ctx, "All jobs completed, shutting down")
	}()

	for {
		// Take a slot before receiving so a message's visibility clock only
		// starts once a job can run it.
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		result, err := w.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: SQSMaxMessages,
			WaitTimeSeconds:     SQSWaitTimeSeconds,
			VisibilityTimeout:   w.visibility,
		})
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				return
			}
			w.log.ErrorContext(ctx, "Failed to receive messages", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(RetryBackoffPeriod):
			}
			continue
		}
		if len(result.Messages) == 0 {
			<-sem
			continue
		}

		wg.Add(1)
		go func(msgs []types.Message) {
			defer wg.Done()
			defer func() { <-sem }()

			for _, msg := range msgs {
				if w.HandleMessage(ctx, msg) {
					w.deleteMessage(ctx, msg)
				}
			}
		}(result.Messages)
	}
}

// HandleMessage processes one message and reports whether it should be
// removed from the queue. Messages are kept only when the outcome could not
// be recorded or the worker is shutting down, so redelivery reruns the job.
func (w *Worker) HandleMessage(ctx context.Context, msg types.Message) bool {
	correlationID := aws.ToString(msg.MessageId)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	ctx, span := tracer.Start(ctx, "process-message")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.message_id", correlationID))

	log := w.log.With("messageId", correlationID)

	job, err := ParseJob(msg.Body)
	if err != nil {
		// A malformed message can never succeed, so it is dropped.
		log.ErrorContext(ctx, "Discarding unparseable message", "error", err)
		metrics.RecordFailure(string(models.StageValidating))
		return true
	}
	span.SetAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("job.raw_key", job.RawVideoKey),
	)
	log = log.With("jobId", job.JobID)

	metrics.ActiveJobs.Inc()
	defer metrics.ActiveJobs.Dec()

	if err := w.repo.MarkProcessing(ctx, job); err != nil {
		log.WarnContext(ctx, "Failed to update video status to processing", "error", err)
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	artifacts, procErr := w.processor.Process(jobCtx, *job)

	// Outcome writes must survive a shutdown or an expired job deadline.
	recordCtx := context.WithoutCancel(ctx)

	if procErr != nil {
		stage := models.StageOf(procErr)

		// Another run of this job holds the scratch directory; its outcome is
		// the one that gets recorded.
		if errors.Is(procErr, models.ErrScratchBusy) {
			log.WarnContext(ctx, "Job already running, leaving duplicate message for redelivery")
			return false
		}

		metrics.RecordFailure(string(stage))

		if ctx.Err() != nil {
			log.WarnContext(ctx, "Job interrupted by shutdown, leaving message for redelivery", "stage", stage)
			return false
		}

		if err := w.repo.FailProcessing(recordCtx, job.JobID, stage, procErr.Error()); err != nil {
			log.ErrorContext(ctx, "Failed to mark video as failed", "stage", stage, "error", err)
			return false
		}
		return true
	}

	if err := w.repo.CompleteProcessing(recordCtx, job.JobID, artifacts); err != nil {
		log.ErrorContext(ctx, "Failed to record completed video", "error", err)
		return false
	}

	metrics.RecordSuccess()
	log.InfoContext(ctx, "Video processed successfully", "transcodedKey", artifacts.TranscodedKey)
	return true
}

func (w *Worker) deleteMessage(ctx context.Context, msg types.Message) {
	_, err := w.sqsClient.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		w.log.ErrorContext(ctx, "Failed to delete message",
			"messageId", aws.ToString(msg.MessageId),
			"error", err,
		)
	}
}

// ParseJob decodes and validates a queue message body.
func ParseJob(body *string) (*models.JobRequest, error) {
	if body == nil || *body == "" {
		return nil, fmt.Errorf("%w: empty message body", models.ErrJobParseFailed)
	}

	var job models.JobRequest
	if err := json.Unmarshal([]byte(*body), &job); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrJobParseFailed, err)
	}

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrJobParseFailed, err)
	}

	return &job, nil
}

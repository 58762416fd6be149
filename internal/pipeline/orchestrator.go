// Package pipeline turns one raw upload into a web-ready video, a poster
// thumbnail and a set of sampled frames.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/amillerrr/video-ingest/internal/logger"
	"github.com/amillerrr/video-ingest/internal/metrics"
	"github.com/amillerrr/video-ingest/internal/scratch"
	"github.com/amillerrr/video-ingest/internal/storage"
	"github.com/amillerrr/video-ingest/internal/transcoder"
	"github.com/amillerrr/video-ingest/pkg/models"
)

var tracer = otel.Tracer("media-pipeline")

// Toolchain waits for the encoder and inspector to become runnable.
type Toolchain interface {
	WaitReady(ctx context.Context) error
}

// Prober reads metadata from a local video.
type Prober interface {
	Probe(ctx context.Context, path string) (*models.VideoMetadata, error)
}

// Encoder produces the web-optimized video.
type Encoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string) error
}

// Thumbnailer produces the poster frame.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, inputPath, outputPath string, opts transcoder.ThumbnailOptions) error
}

// FrameSampler produces the analysis frames.
type FrameSampler interface {
	SampleFrames(ctx context.Context, inputPath, outputDir, jobID string, duration float64) ([]string, error)
}

// ObjectStore moves files to and from object storage.
type ObjectStore interface {
	Download(ctx context.Context, key, destPath string) (int64, error)
	Upload(ctx context.Context, localPath, key, contentType string, opts ...storage.UploadOption) error
	UploadAll(ctx context.Context, objects []storage.Object, opts ...storage.UploadOption) error
}

// Config holds orchestrator dependencies.
type Config struct {
	Toolchain       Toolchain
	Prober          Prober
	Encoder         Encoder
	Thumbnailer     Thumbnailer
	Sampler         FrameSampler
	Store           ObjectStore
	ScratchRoot     string
	// ThumbnailOffset is the poster seek position in seconds; zero selects
	// transcoder.DefaultThumbnailOffset.
	ThumbnailOffset float64
	Logger          *slog.Logger
}

// Orchestrator sequences the pipeline for one job at a time per call. Calls
// for different job ids may run concurrently.
type Orchestrator struct {
	toolchain   Toolchain
	prober      Prober
	encoder     Encoder
	thumbnailer Thumbnailer
	sampler     FrameSampler
	store       ObjectStore
	scratchRoot string
	thumbOffset float64
	log         *slog.Logger
}

// New creates a new Orchestrator.
func New(cfg *Config) *Orchestrator {
	offset := cfg.ThumbnailOffset
	if offset <= 0 {
		offset = transcoder.DefaultThumbnailOffset
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		toolchain:   cfg.Toolchain,
		prober:      cfg.Prober,
		encoder:     cfg.Encoder,
		thumbnailer: cfg.Thumbnailer,
		sampler:     cfg.Sampler,
		store:       cfg.Store,
		scratchRoot: cfg.ScratchRoot,
		thumbOffset: offset,
		log:         log,
	}
}

// Process runs the whole pipeline for job. On failure the returned error is a
// *models.StageError naming the first stage that failed. Objects uploaded
// before a failure are left in place; a rerun with the same job id overwrites
// them.
func (o *Orchestrator) Process(ctx context.Context, job models.JobRequest) (*models.ArtifactSet, error) {
	ctx, span := tracer.Start(ctx, "process-job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.JobID),
		attribute.String("job.raw_key", job.RawVideoKey),
	)

	start := time.Now()
	artifacts, err := o.process(ctx, &job)
	metrics.JobDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		stage := models.StageOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stage))
		logger.Error(ctx, o.log, "Job failed",
			"jobId", job.JobID,
			"stage", stage,
			"error", err,
		)
		return nil, err
	}

	logger.Info(ctx, o.log, "Job completed",
		"jobId", job.JobID,
		"stage", models.StageDone,
		"durationSeconds", time.Since(start).Seconds(),
		"transcodedKey", artifacts.TranscodedKey,
	)
	return artifacts, nil
}

func (o *Orchestrator) process(ctx context.Context, job *models.JobRequest) (*models.ArtifactSet, error) {
	if err := job.Validate(); err != nil {
		return nil, &models.StageError{Stage: models.StageValidating, Err: err}
	}

	if err := o.step(ctx, job, models.StageAwaitingToolchain, func(ctx context.Context) error {
		return o.toolchain.WaitReady(ctx)
	}); err != nil {
		return nil, err
	}

	dir, err := scratch.Acquire(o.scratchRoot, job.JobID, o.log)
	if err != nil {
		return nil, &models.StageError{Stage: models.StagePreparingScratch, Err: err}
	}
	defer dir.Close(ctx)

	inputPath := dir.InputPath(job.RawVideoKey)
	if err := o.step(ctx, job, models.StageDownloading, func(ctx context.Context) error {
		_, err := o.store.Download(ctx, job.RawVideoKey, inputPath)
		return err
	}); err != nil {
		return nil, err
	}

	var meta *models.VideoMetadata
	if err := o.step(ctx, job, models.StageProbingMetadata, func(ctx context.Context) error {
		meta, err = o.prober.Probe(ctx, inputPath)
		return err
	}); err != nil {
		return nil, err
	}

	transcodedPath := dir.TranscodedPath()
	if err := o.step(ctx, job, models.StageTranscoding, func(ctx context.Context) error {
		return o.encoder.Transcode(ctx, inputPath, transcodedPath)
	}); err != nil {
		return nil, err
	}

	thumbPath := dir.ThumbnailPath()
	if err := o.step(ctx, job, models.StageGeneratingThumbnail, func(ctx context.Context) error {
		return o.thumbnailer.Thumbnail(ctx, inputPath, thumbPath, transcoder.ThumbnailOptions{
			Offset:   ThumbnailOffset(o.thumbOffset, meta.DurationSeconds),
			Duration: meta.DurationSeconds,
		})
	}); err != nil {
		return nil, err
	}

	var framePaths []string
	if err := o.step(ctx, job, models.StageSamplingFrames, func(ctx context.Context) error {
		framePaths, err = o.sampler.SampleFrames(ctx, inputPath, dir.FramesPath(), job.JobID, meta.DurationSeconds)
		return err
	}); err != nil {
		return nil, err
	}

	artifacts := &models.ArtifactSet{
		TranscodedKey: models.TranscodedKey(job.JobID),
		ThumbnailKey:  models.ThumbnailKey(job.JobID),
		FrameKeys:     models.FrameKeys(job.JobID),
		Metadata:      *meta,
	}
	artifacts.OutputWidth, artifacts.OutputHeight = transcoder.EvenDimensions(meta.Width, meta.Height)

	if err := o.step(ctx, job, models.StageUploadingArtifacts, func(ctx context.Context) error {
		return o.upload(ctx, job, artifacts, transcodedPath, thumbPath, framePaths)
	}); err != nil {
		return nil, err
	}

	return artifacts, nil
}

// upload stores the video first, then the thumbnail, then the frames.
func (o *Orchestrator) upload(ctx context.Context, job *models.JobRequest, artifacts *models.ArtifactSet, videoPath, thumbPath string, framePaths []string) error {
	owner := storage.WithOwner(job.OwnerID)

	if err := o.store.Upload(ctx, videoPath, artifacts.TranscodedKey, models.ContentTypeMP4, owner); err != nil {
		return err
	}
	if err := o.store.Upload(ctx, thumbPath, artifacts.ThumbnailKey, models.ContentTypeJPEG, owner); err != nil {
		return err
	}

	if len(framePaths) != len(artifacts.FrameKeys) {
		return fmt.Errorf("%w: sampled %d frames, expected %d", models.ErrFrameExtraction, len(framePaths), len(artifacts.FrameKeys))
	}
	objects := make([]storage.Object, len(framePaths))
	for i, p := range framePaths {
		objects[i] = storage.Object{LocalPath: p, Key: artifacts.FrameKeys[i], ContentType: models.ContentTypeJPEG}
	}
	return o.store.UploadAll(ctx, objects, owner)
}

// step runs fn as one traced, timed stage and tags its error with the stage.
func (o *Orchestrator) step(ctx context.Context, job *models.JobRequest, stage models.Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &models.StageError{Stage: stage, Err: fmt.Errorf("%w: %w", models.ErrContextCanceled, err)}
	}

	ctx, span := tracer.Start(ctx, string(stage))
	defer span.End()

	logger.Info(ctx, o.log, "Stage started", "jobId", job.JobID, "stage", stage)
	start := time.Now()

	err := fn(ctx)
	elapsed := time.Since(start).Seconds()
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &models.StageError{Stage: stage, Err: err}
	}

	logger.Debug(ctx, o.log, "Stage finished", "jobId", job.JobID, "stage", stage, "durationSeconds", elapsed)
	return nil
}

// ThumbnailOffset fits the configured poster offset to a video of the given
// duration: offsets that would land at or past the end fall back to the
// midpoint.
func ThumbnailOffset(configured, duration float64) float64 {
	if duration > 0 && configured >= duration {
		return duration / 2
	}
	return configured
}

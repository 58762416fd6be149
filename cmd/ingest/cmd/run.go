package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/amillerrr/video-ingest/internal/config"
	"github.com/amillerrr/video-ingest/internal/pipeline"
	"github.com/amillerrr/video-ingest/internal/storage"
	"github.com/amillerrr/video-ingest/pkg/models"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one raw upload",
	Long: `Run the full pipeline for one raw upload and print the resulting
artifact set as JSON.

Artifacts are written to:
  processed/videos/{jobId}.mp4
  processed/thumbnails/{jobId}.jpg
  processed/frames/{jobId}/frame_01.jpg ... frame_05.jpg

Examples:
  # Process with a generated job id
  ingest run --raw-key raw/clip.mov --owner-id user-1

  # Re-run an existing job; keys are overwritten
  ingest run --raw-key raw/clip.mov --owner-id user-1 --job-id 5f1c`,
	RunE: runJob,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("raw-key", "", "object key of the raw upload (required)")
	runCmd.Flags().String("owner-id", "", "id of the user who owns the upload (required)")
	runCmd.Flags().String("job-id", "", "job id; a UUID is generated when empty")
	_ = runCmd.MarkFlagRequired("raw-key")
	_ = runCmd.MarkFlagRequired("owner-id")
}

func runJob(cmd *cobra.Command, _ []string) error {
	rawKey, _ := cmd.Flags().GetString("raw-key")
	ownerID, _ := cmd.Flags().GetString("owner-id")
	jobID, _ := cmd.Flags().GetString("job-id")
	if jobID == "" {
		jobID = uuid.NewString()
	}

	cfg, err := config.LoadPipeline()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Pipeline.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Pipeline.JobTimeout)
		defer cancel()
	}

	log := slog.Default()
	awsCfg, err := storage.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	gateway := storage.NewGateway(storage.NewS3Client(awsCfg, cfg.AWS), cfg.AWS.RawBucket, cfg.AWS.ProcessedBucket, log)
	orchestrator, _ := pipeline.NewFromConfig(cfg, gateway, log)

	artifacts, err := orchestrator.Process(ctx, models.JobRequest{
		RawVideoKey: rawKey,
		JobID:       jobID,
		OwnerID:     ownerID,
	})
	if err != nil {
		return fmt.Errorf("job %s failed at %s: %w", jobID, models.StageOf(err), err)
	}

	return writeJSON(cmd, cmd.OutOrStdout(), struct {
		JobID string `json:"jobId"`
		*models.ArtifactSet
	}{JobID: jobID, ArtifactSet: artifacts})
}

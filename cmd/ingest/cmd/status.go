package cmd

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/amillerrr/video-ingest/internal/config"
	"github.com/amillerrr/video-ingest/internal/storage"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored record for a job",
	Long: `Read the video record the worker keeps in DynamoDB and print it as JSON.
Requires DYNAMODB_TABLE.

Example:
  ingest status --job-id 5f1c --pretty`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("job-id", "", "job id to look up (required)")
	_ = statusCmd.MarkFlagRequired("job-id")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	jobID, _ := cmd.Flags().GetString("job-id")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.AWS.DynamoDBTable == "" {
		return fmt.Errorf("DYNAMODB_TABLE is required")
	}

	ctx := cmd.Context()
	awsCfg, err := storage.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	repo, err := storage.NewVideoRepository(dynamodb.NewFromConfig(awsCfg), cfg.AWS.DynamoDBTable)
	if err != nil {
		return err
	}

	record, err := repo.GetVideo(ctx, jobID)
	if err != nil {
		return err
	}
	return writeJSON(cmd, cmd.OutOrStdout(), record)
}

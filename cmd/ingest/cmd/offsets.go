package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amillerrr/video-ingest/internal/pipeline"
	"github.com/amillerrr/video-ingest/internal/transcoder"
	"github.com/amillerrr/video-ingest/pkg/models"
)

// offsetsCmd represents the offsets command
var offsetsCmd = &cobra.Command{
	Use:   "offsets",
	Short: "Print the frame sampling schedule for a duration",
	Long: `Print the seek offsets at which the five analysis frames are taken for
a video of the given duration, plus the thumbnail offset actually used.

Example:
  ingest offsets --duration 47.5`,
	RunE: runOffsets,
}

func init() {
	rootCmd.AddCommand(offsetsCmd)

	offsetsCmd.Flags().Float64("duration", 0, "video duration in seconds (required)")
	offsetsCmd.Flags().Float64("thumbnail-offset", transcoder.DefaultThumbnailOffset, "configured thumbnail offset in seconds")
	_ = offsetsCmd.MarkFlagRequired("duration")
}

// FrameOffset is one entry of the sampling schedule.
type FrameOffset struct {
	Frame      string  `json:"frame"`
	Percentage float64 `json:"percentage"`
	Offset     float64 `json:"offset_seconds"`
}

// Schedule is the output of the offsets command.
type Schedule struct {
	Duration        float64       `json:"duration_seconds"`
	ThumbnailOffset float64       `json:"thumbnail_offset_seconds"`
	Frames          []FrameOffset `json:"frames"`
}

func runOffsets(cmd *cobra.Command, _ []string) error {
	duration, _ := cmd.Flags().GetFloat64("duration")
	thumb, _ := cmd.Flags().GetFloat64("thumbnail-offset")
	if duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", duration)
	}
	if thumb <= 0 {
		return fmt.Errorf("thumbnail offset must be positive, got %v", thumb)
	}

	schedule := Schedule{
		Duration:        duration,
		ThumbnailOffset: pipeline.ThumbnailOffset(thumb, duration),
	}
	for i, offset := range transcoder.FrameOffsets(duration) {
		schedule.Frames = append(schedule.Frames, FrameOffset{
			Frame:      models.FrameName(i + 1),
			Percentage: transcoder.FramePercentages[i],
			Offset:     offset,
		})
	}

	return writeJSON(cmd, cmd.OutOrStdout(), schedule)
}

package transcoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/video-ingest/pkg/models"
)

// FramePercentages is the ascending sampling schedule, as percent of duration.
var FramePercentages = [models.FrameCount]float64{0, 10, 25, 50, 90}

// FrameOffsets converts FramePercentages into absolute seconds for a video of
// the given duration.
func FrameOffsets(duration float64) [models.FrameCount]float64 {
	var offsets [models.FrameCount]float64
	for i, pct := range FramePercentages {
		offsets[i] = duration * pct / 100
	}
	return offsets
}

// FrameExtractionError names the sample that could not be extracted.
type FrameExtractionError struct {
	JobID      string
	Index      int
	Percentage float64
	Offset     float64
	Err        error
}

func (e *FrameExtractionError) Error() string {
	return fmt.Sprintf("%v: job %s frame %d at %g%% (%.3fs): %v",
		models.ErrFrameExtraction, e.JobID, e.Index, e.Percentage, e.Offset, e.Err)
}

func (e *FrameExtractionError) Unwrap() []error {
	return []error{models.ErrFrameExtraction, e.Err}
}

// FrameSampler extracts stills at percentage offsets for downstream analysis.
type FrameSampler struct {
	config *FFmpegConfig
}

// NewFrameSampler creates a new FrameSampler.
func NewFrameSampler(config *FFmpegConfig) *FrameSampler {
	return &FrameSampler{config: config}
}

// SampleFrames writes frame_01.jpg … frame_05.jpg into outputDir and returns
// their paths in order. Any failure aborts the whole set.
func (s *FrameSampler) SampleFrames(ctx context.Context, inputPath, outputDir, jobID string, duration float64) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ffmpeg-sample-frames")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.Float64("video.duration", duration),
	)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create frames directory: %w", models.ErrFrameExtraction, err)
	}

	offsets := FrameOffsets(duration)
	paths := make([]string, 0, models.FrameCount)
	for i, offset := range offsets {
		outPath := filepath.Join(outputDir, models.FrameName(i+1))
		if err := s.extract(ctx, inputPath, outPath, offset); err != nil {
			return nil, &FrameExtractionError{
				JobID:      jobID,
				Index:      i + 1,
				Percentage: FramePercentages[i],
				Offset:     offset,
				Err:        err,
			}
		}
		paths = append(paths, outPath)
	}

	s.config.Logger.DebugContext(ctx, "Sampled frames", "jobId", jobID, "count", len(paths))
	return paths, nil
}

func (s *FrameSampler) extract(ctx context.Context, inputPath, outputPath string, offset float64) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-ss", formatSeconds(offset),
		"-i", inputPath,
		"-frames:v", "1",
		"-vf", BuildLetterboxFilter(FrameWidth, FrameHeight),
		"-q:v", strconv.Itoa(StillQuality),
		outputPath,
	}
	if _, err := s.config.runStep(ctx, s.config.FFmpegPath, args); err != nil {
		return err
	}
	return checkOutput(outputPath)
}

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

// ThumbnailOptions controls poster frame extraction.
type ThumbnailOptions struct {
	// Offset is the seek position in seconds.
	Offset float64
	// Duration of the source in seconds. When set, an Offset at or past it is rejected.
	Duration float64
}

// Thumbnailer extracts a single poster frame.
type Thumbnailer struct {
	config *FFmpegConfig
}

// NewThumbnailer creates a new Thumbnailer.
func NewThumbnailer(config *FFmpegConfig) *Thumbnailer {
	return &Thumbnailer{config: config}
}

// Thumbnail writes one high-quality JPEG taken at opts.Offset. The offset is
// never clamped here; callers decide how to fit it to short videos.
func (t *Thumbnailer) Thumbnail(ctx context.Context, inputPath, outputPath string, opts ThumbnailOptions) error {
	ctx, span := tracer.Start(ctx, "ffmpeg-thumbnail")
	defer span.End()
	span.SetAttributes(attribute.Float64("thumbnail.offset", opts.Offset))

	if opts.Offset < 0 {
		return fmt.Errorf("%w: negative offset %.3fs", models.ErrThumbnail, opts.Offset)
	}
	if opts.Duration > 0 && opts.Offset >= opts.Duration {
		return fmt.Errorf("%w: offset %.3fs is beyond video duration %.3fs", models.ErrThumbnail, opts.Offset, opts.Duration)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("%w: failed to create output directory: %w", models.ErrThumbnail, err)
	}

	args := []string{
		"-y",
		"-hide_banner",
		"-ss", formatSeconds(opts.Offset),
		"-i", inputPath,
		"-frames:v", "1",
		"-q:v", strconv.Itoa(StillQuality),
		outputPath,
	}
	if _, err := t.config.runStep(ctx, t.config.FFmpegPath, args); err != nil {
		return fmt.Errorf("%w: %w", models.ErrThumbnail, err)
	}
	if err := checkOutput(outputPath); err != nil {
		return fmt.Errorf("%w: %v", models.ErrThumbnail, err)
	}

	return nil
}

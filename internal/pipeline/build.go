package pipeline

import (
	"log/slog"

	"github.com/amillerrr/video-ingest/internal/config"
	"github.com/amillerrr/video-ingest/internal/transcoder"
)

// NewFromConfig wires the ffmpeg-backed stages around store. The returned
// checker is shared with health reporting.
func NewFromConfig(cfg *config.Config, store ObjectStore, log *slog.Logger) (*Orchestrator, *transcoder.Checker) {
	ff := transcoder.NewFFmpegConfig(cfg, log)
	checker := transcoder.NewChecker(ff)

	return New(&Config{
		Toolchain:       checker,
		Prober:          transcoder.NewProber(ff),
		Encoder:         transcoder.NewTranscoder(ff),
		Thumbnailer:     transcoder.NewThumbnailer(ff),
		Sampler:         transcoder.NewFrameSampler(ff),
		Store:           store,
		ScratchRoot:     cfg.Pipeline.ScratchDir,
		ThumbnailOffset: cfg.Pipeline.ThumbnailOffset,
		Logger:          log,
	}), checker
}

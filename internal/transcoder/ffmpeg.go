package transcoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/video-ingest/internal/config"
	"github.com/amillerrr/video-ingest/pkg/models"
)

var tracer = otel.Tracer("media-transcoder")

// FFmpegConfig holds configuration for FFmpeg and FFprobe execution.
type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	Settings    EncodeSettings

	// ProbeTimeout bounds each availability probe.
	ProbeTimeout time.Duration
	WaitAttempts int
	WaitInterval time.Duration

	// StepTimeout bounds every probe/transcode/still extraction; zero disables it.
	StepTimeout time.Duration

	Runner Runner
	Logger *slog.Logger
}

// DefaultFFmpegConfig returns the default FFmpeg configuration.
func DefaultFFmpegConfig(logger *slog.Logger) *FFmpegConfig {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegConfig{
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		Settings:     DefaultEncodeSettings,
		ProbeTimeout: 5 * time.Second,
		WaitAttempts: 10,
		WaitInterval: 2 * time.Second,
		StepTimeout:  15 * time.Minute,
		Runner:       NewExecRunner(logger),
		Logger:       logger,
	}
}

// NewFFmpegConfig applies the toolchain, encoding and timeout settings of cfg
// on top of the defaults.
func NewFFmpegConfig(cfg *config.Config, logger *slog.Logger) *FFmpegConfig {
	c := DefaultFFmpegConfig(logger)
	c.FFmpegPath = cfg.Toolchain.FFmpegPath
	c.FFprobePath = cfg.Toolchain.FFprobePath
	c.ProbeTimeout = cfg.Toolchain.ProbeTimeout
	c.WaitAttempts = cfg.Toolchain.WaitAttempts
	c.WaitInterval = cfg.Toolchain.WaitInterval
	c.StepTimeout = cfg.Pipeline.StepTimeout
	c.Settings.CRF = cfg.Encoding.VideoCRF
	c.Settings.Preset = cfg.Encoding.VideoPreset
	c.Settings.AudioBitrate = cfg.Encoding.AudioBitrate
	return c
}

// runStep invokes a tool under the step timeout.
func (c *FFmpegConfig) runStep(ctx context.Context, bin string, args []string) (*Result, error) {
	if c.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.StepTimeout)
		defer cancel()
	}
	return c.Runner.Run(ctx, bin, args...)
}

// Transcoder re-encodes uploads into a streaming-friendly MP4.
type Transcoder struct {
	config *FFmpegConfig
}

// NewTranscoder creates a new Transcoder with the given configuration.
func NewTranscoder(config *FFmpegConfig) *Transcoder {
	return &Transcoder{config: config}
}

// Transcode re-encodes inputPath to outputPath, creating the output directory if needed.
func (t *Transcoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	ctx, span := tracer.Start(ctx, "ffmpeg-transcode")
	defer span.End()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("%w: failed to create output directory: %w", models.ErrTranscode, err)
	}

	start := time.Now()
	args := t.buildTranscodeArgs(inputPath, outputPath)
	if _, err := t.config.runStep(ctx, t.config.FFmpegPath, args); err != nil {
		return fmt.Errorf("%w: %w", models.ErrTranscode, err)
	}
	if err := checkOutput(outputPath); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTranscode, err)
	}

	span.SetAttributes(
		attribute.String("transcode.preset", t.config.Settings.Preset),
		attribute.Int("transcode.crf", t.config.Settings.CRF),
	)
	t.config.Logger.DebugContext(ctx, "Transcode finished",
		"output", outputPath,
		"durationSeconds", time.Since(start).Seconds(),
	)

	return nil
}

// buildTranscodeArgs constructs the FFmpeg command arguments.
func (t *Transcoder) buildTranscodeArgs(inputPath, outputPath string) []string {
	s := t.config.Settings
	return []string{
		"-y",
		"-hide_banner",
		"-i", inputPath,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-c:v", s.VideoCodec,
		"-preset", s.Preset,
		"-crf", strconv.Itoa(s.CRF),
		"-pix_fmt", s.PixelFormat,
		"-vf", EvenScaleFilter,
		"-c:a", s.AudioCodec,
		"-b:a", s.AudioBitrate,
		"-movflags", "+faststart",
		outputPath,
	}
}

// formatSeconds renders a seek offset with millisecond precision.
func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

// checkOutput verifies the tool left a non-empty file behind. FFmpeg exits 0
// when a seek lands past the last frame but writes nothing.
func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output not written: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output %s is empty", filepath.Base(path))
	}
	return nil
}

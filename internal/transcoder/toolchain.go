package transcoder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/amillerrr/video-ingest/internal/metrics"
	"github.com/amillerrr/video-ingest/pkg/models"
)

// SleepFunc pauses between availability attempts. It returns early with the
// context error on cancellation.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Checker probes whether the encoder and inspector binaries are runnable.
type Checker struct {
	config *FFmpegConfig
	sleep  SleepFunc
	log    *slog.Logger
}

// NewChecker creates a new toolchain checker.
func NewChecker(config *FFmpegConfig) *Checker {
	return &Checker{
		config: config,
		sleep:  sleepContext,
		log:    config.Logger,
	}
}

// WithSleep replaces the pause between attempts.
func (c *Checker) WithSleep(fn SleepFunc) *Checker {
	c.sleep = fn
	return c
}

// IsEncoderAvailable returns true if ffmpeg -version exits 0 within the probe timeout.
func (c *Checker) IsEncoderAvailable(ctx context.Context) bool {
	return c.available(ctx, "ffmpeg", c.config.FFmpegPath)
}

// IsInspectorAvailable returns true if ffprobe -version exits 0 within the probe timeout.
func (c *Checker) IsInspectorAvailable(ctx context.Context) bool {
	return c.available(ctx, "ffprobe", c.config.FFprobePath)
}

func (c *Checker) available(ctx context.Context, tool, bin string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	defer cancel()

	_, err := c.config.Runner.Run(ctx, bin, "-version")
	ok := err == nil
	metrics.RecordProbe(tool, ok)
	if !ok {
		c.log.DebugContext(ctx, "Toolchain probe failed", "tool", tool, "path", bin, "error", err)
	}
	return ok
}

// WaitReady polls both binaries up to WaitAttempts times, sleeping WaitInterval
// between attempts. It blocks the calling goroutine.
func (c *Checker) WaitReady(ctx context.Context) error {
	attempts := max(c.config.WaitAttempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		if c.IsEncoderAvailable(ctx) && c.IsInspectorAvailable(ctx) {
			metrics.ToolchainWaitAttempts.Observe(float64(attempt))
			if attempt > 1 {
				c.log.InfoContext(ctx, "Toolchain became available", "attempt", attempt)
			}
			return nil
		}

		if attempt == attempts {
			break
		}

		c.log.WarnContext(ctx, "Toolchain not available, retrying",
			"attempt", attempt,
			"maxAttempts", attempts,
			"retryIn", c.config.WaitInterval.String(),
		)
		if err := c.sleep(ctx, c.config.WaitInterval); err != nil {
			return fmt.Errorf("%w: while waiting for toolchain: %v", models.ErrContextCanceled, err)
		}
	}

	return fmt.Errorf("%w: encoder or inspector not runnable after %d attempts", models.ErrToolchainUnavailable, attempts)
}

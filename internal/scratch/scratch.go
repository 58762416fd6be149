// Package scratch manages per-job working directories on local disk.
package scratch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/amillerrr/video-ingest/internal/metrics"
	"github.com/amillerrr/video-ingest/pkg/models"
)

// File names inside a job directory.
const (
	TranscodedName = "output.mp4"
	ThumbnailName  = "thumbnail.jpg"
	FramesDir      = "frames"
	inputBase      = "input"
)

// Dir is an exclusive scratch directory for one job. It must be released with
// Close on every path.
type Dir struct {
	path  string
	jobID string
	log   *slog.Logger

	mu     sync.Mutex
	files  []string
	closed bool
}

// Acquire creates {root}/{jobID}. It fails with models.ErrScratchBusy if the
// directory already exists, which means another run of the same job holds it.
func Acquire(root, jobID string, log *slog.Logger) (*Dir, error) {
	if log == nil {
		log = slog.Default()
	}
	if !models.ValidJobID(jobID) {
		return nil, fmt.Errorf("%w: unusable scratch name %q", models.ErrInvalidJobID, jobID)
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}

	path := filepath.Join(root, jobID)
	if err := os.Mkdir(path, 0755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrScratchBusy, path)
		}
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	return &Dir{path: path, jobID: jobID, log: log}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// Join returns a path inside the directory and remembers it for cleanup.
func (d *Dir) Join(elem ...string) string {
	p := filepath.Join(append([]string{d.path}, elem...)...)
	d.mu.Lock()
	d.files = append(d.files, p)
	d.mu.Unlock()
	return p
}

// InputPath returns where the raw upload is stored, keeping the extension of
// the source key so the inspector can use it as a format hint.
func (d *Dir) InputPath(rawKey string) string {
	return d.Join(inputBase + filepath.Ext(rawKey))
}

// TranscodedPath returns the local path of the transcoded video.
func (d *Dir) TranscodedPath() string {
	return d.Join(TranscodedName)
}

// ThumbnailPath returns the local path of the poster thumbnail.
func (d *Dir) ThumbnailPath() string {
	return d.Join(ThumbnailName)
}

// FramesPath returns the directory sampled frames are written to.
func (d *Dir) FramesPath() string {
	return d.Join(FramesDir)
}

// Close removes every file handed out by Join, then the directory itself.
// Failures are logged as cleanup warnings and never returned, so a cleanup
// problem cannot mask the job's own result. Close is idempotent.
func (d *Dir) Close(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true

	for i := len(d.files) - 1; i >= 0; i-- {
		if err := os.RemoveAll(d.files[i]); err != nil {
			d.warn(ctx, d.files[i], err)
		}
	}
	if err := os.RemoveAll(d.path); err != nil {
		d.warn(ctx, d.path, err)
	}
}

func (d *Dir) warn(ctx context.Context, path string, err error) {
	metrics.CleanupWarnings.Inc()
	d.log.WarnContext(ctx, "Failed to remove scratch path",
		"jobId", d.jobID,
		"path", path,
		"error", err,
		"cleanup_warning", true,
	)
}

// Sweep removes job directories left under root by a crashed process. Only
// directories named like a job id are touched; anything else under root is
// left alone. It must only run before any job is started.
func Sweep(ctx context.Context, root string, log *slog.Logger) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read scratch root: %w", err)
	}

	removed := 0
	for _, e := range entries {
		p := filepath.Join(root, e.Name())
		if !e.IsDir() || !models.ValidJobID(e.Name()) {
			log.DebugContext(ctx, "Skipping foreign entry in scratch root", "path", p)
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			metrics.CleanupWarnings.Inc()
			log.WarnContext(ctx, "Failed to remove stale scratch path", "path", p, "error", err, "cleanup_warning", true)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.InfoContext(ctx, "Removed stale scratch directories", "root", root, "count", removed)
	}
	return removed, nil
}

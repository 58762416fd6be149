package scratch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/amillerrr/video-ingest/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAcquire_CreatesAndCloseRemoves(t *testing.T) {
	root := t.TempDir()

	dir, err := Acquire(root, "job-1", discardLogger())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if dir.Path() != filepath.Join(root, "job-1") {
		t.Errorf("Path() = %s, want %s", dir.Path(), filepath.Join(root, "job-1"))
	}

	input := dir.InputPath("raw/uploads/clip.MOV")
	if filepath.Base(input) != "input.MOV" {
		t.Errorf("InputPath() = %s, want input.MOV", filepath.Base(input))
	}
	if err := os.WriteFile(input, []byte("raw"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dir.FramesPath(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir.FramesPath(), "frame_01.jpg"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	dir.Close(context.Background())

	if _, err := os.Stat(dir.Path()); !os.IsNotExist(err) {
		t.Errorf("scratch directory still exists after Close: %v", err)
	}

	// Idempotent.
	dir.Close(context.Background())
}

func TestAcquire_Busy(t *testing.T) {
	root := t.TempDir()

	first, err := Acquire(root, "job-1", discardLogger())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer first.Close(context.Background())

	_, err = Acquire(root, "job-1", discardLogger())
	if !errors.Is(err, models.ErrScratchBusy) {
		t.Fatalf("second Acquire() error = %v, want ErrScratchBusy", err)
	}

	// The losing acquirer must not have removed the holder's directory.
	if _, err := os.Stat(first.Path()); err != nil {
		t.Errorf("holder directory missing: %v", err)
	}
}

func TestAcquire_ReusableAfterClose(t *testing.T) {
	root := t.TempDir()

	dir, err := Acquire(root, "job-1", discardLogger())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	dir.Close(context.Background())

	again, err := Acquire(root, "job-1", discardLogger())
	if err != nil {
		t.Fatalf("Acquire() after Close error = %v", err)
	}
	again.Close(context.Background())
}

func TestAcquire_RejectsPathNames(t *testing.T) {
	root := t.TempDir()

	for _, id := range []string{"", ".", "..", "a/b", "has space"} {
		if _, err := Acquire(root, id, discardLogger()); err == nil {
			t.Errorf("Acquire(%q) should fail", id)
		}
	}
}

func TestSweep(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"stale-1", "stale-2"} {
		if err := os.MkdirAll(filepath.Join(root, name, "frames"), 0755); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := Sweep(context.Background(), root, discardLogger())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("root has %d entries after Sweep, want 0", len(entries))
	}
}

func TestSweep_MissingRoot(t *testing.T) {
	removed, err := Sweep(context.Background(), filepath.Join(t.TempDir(), "nope"), discardLogger())
	if err != nil || removed != 0 {
		t.Errorf("Sweep() = %d, %v; want 0, nil", removed, err)
	}
}

func TestSweep_LeavesForeignEntries(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "stale-1"), 0755); err != nil {
		t.Fatal(err)
	}
	foreignFile := filepath.Join(root, "someone-elses.db")
	if err := os.WriteFile(foreignFile, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	foreignDir := filepath.Join(root, "not a job.dir")
	if err := os.Mkdir(foreignDir, 0755); err != nil {
		t.Fatal(err)
	}
	// A regular file whose name looks like a job id is still not a job directory.
	jobNamedFile := filepath.Join(root, "job-2")
	if err := os.WriteFile(jobNamedFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	removed, err := Sweep(context.Background(), root, discardLogger())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	for _, p := range []string{foreignFile, foreignDir, jobNamedFile} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s was removed: %v", filepath.Base(p), err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "stale-1")); !os.IsNotExist(err) {
		t.Errorf("stale job directory still exists: %v", err)
	}
}

package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline operations.
var (
	// Validation errors
	ErrInvalidJob      = errors.New("invalid job request")
	ErrMissingRawKey   = errors.New("rawVideoKey is required")
	ErrMissingJobID    = errors.New("jobId is required")
	ErrMissingOwnerID  = errors.New("ownerId is required")
	ErrInvalidJobID    = errors.New("jobId may only contain letters, digits, '-' and '_'")
	ErrJobParseFailed  = errors.New("failed to parse job")
	ErrContextCanceled = errors.New("context canceled")

	// Pipeline errors
	ErrToolchainUnavailable = errors.New("encoding toolchain unavailable")
	ErrStorage              = errors.New("object storage operation failed")
	ErrProbe                = errors.New("failed to probe video metadata")
	ErrTranscode            = errors.New("failed to transcode video")
	ErrThumbnail            = errors.New("failed to generate thumbnail")
	ErrFrameExtraction      = errors.New("failed to extract frame")
	ErrScratchBusy          = errors.New("scratch directory already in use")

	// Repository errors
	ErrVideoNotFound = errors.New("video not found")
)

// StageError tags a pipeline failure with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded in err, or StageFailed if err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StageFailed
}

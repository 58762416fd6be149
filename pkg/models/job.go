package models

import (
	"fmt"
	"regexp"
)

// MaxJobIDLength bounds job ids since they become directory names and key segments.
const MaxJobIDLength = 128

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// JobRequest is one invocation of the pipeline.
type JobRequest struct {
	RawVideoKey string `json:"rawVideoKey"`
	JobID       string `json:"jobId"`
	OwnerID     string `json:"ownerId"`
}

// Validate checks if the job request has all required fields.
func (j *JobRequest) Validate() error {
	if j.RawVideoKey == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrMissingRawKey)
	}
	if j.JobID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrMissingJobID)
	}
	if j.OwnerID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrMissingOwnerID)
	}
	if !ValidJobID(j.JobID) {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrInvalidJobID)
	}
	return nil
}

// ValidJobID reports whether id is usable as a scratch directory name and a
// key segment.
func ValidJobID(id string) bool {
	return len(id) <= MaxJobIDLength && jobIDPattern.MatchString(id)
}

// VideoMetadata describes the source video as reported by the inspector.
type VideoMetadata struct {
	DurationSeconds float64 `dynamodbav:"duration_seconds" json:"durationSeconds"`
	Width           int     `dynamodbav:"width" json:"width"`
	Height          int     `dynamodbav:"height" json:"height"`
	Bitrate         int64   `dynamodbav:"bitrate" json:"bitrate"`
	FrameRate       float64 `dynamodbav:"frame_rate" json:"frameRate"`
}

// ArtifactSet is the output of a successful job. Ownership of the keys passes
// to the caller.
type ArtifactSet struct {
	TranscodedKey string        `json:"transcodedKey"`
	ThumbnailKey  string        `json:"thumbnailKey"`
	FrameKeys     []string      `json:"frameKeys"`
	Metadata      VideoMetadata `json:"metadata"`
	OutputWidth   int           `json:"outputWidth"`
	OutputHeight  int           `json:"outputHeight"`
}

package models

import "fmt"

// FrameCount is the number of sampled stills per job.
const FrameCount = 5

// Content types set on uploaded artifacts.
const (
	ContentTypeMP4  = "video/mp4"
	ContentTypeJPEG = "image/jpeg"
)

// TranscodedKey returns the object key of the transcoded video.
func TranscodedKey(jobID string) string {
	return fmt.Sprintf("processed/videos/%s.mp4", jobID)
}

// ThumbnailKey returns the object key of the poster thumbnail.
func ThumbnailKey(jobID string) string {
	return fmt.Sprintf("processed/thumbnails/%s.jpg", jobID)
}

// FrameName returns the file name of the n-th sampled frame (1-based).
func FrameName(n int) string {
	return fmt.Sprintf("frame_%02d.jpg", n)
}

// FrameKey returns the object key of the n-th sampled frame (1-based).
func FrameKey(jobID string, n int) string {
	return fmt.Sprintf("processed/frames/%s/%s", jobID, FrameName(n))
}

// FrameKeys returns the keys of all sampled frames in order.
func FrameKeys(jobID string) []string {
	keys := make([]string, FrameCount)
	for i := range keys {
		keys[i] = FrameKey(jobID, i+1)
	}
	return keys
}

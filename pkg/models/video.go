package models

// VideoStatus represents the processing status of a video.
type VideoStatus string

const (
	StatusPending    VideoStatus = "pending"
	StatusProcessing VideoStatus = "processing"
	StatusCompleted  VideoStatus = "completed"
	StatusFailed     VideoStatus = "failed"
)

// IsValid returns true if the status is a valid VideoStatus.
func (s VideoStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// VideoRecord is the caller-side record that the artifact keys are persisted against.
type VideoRecord struct {
	// Keys
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	GSI1PK string `dynamodbav:"gsi1pk,omitempty"`
	GSI1SK string `dynamodbav:"gsi1sk,omitempty"`

	// Attributes
	VideoID       string         `dynamodbav:"video_id" json:"videoId"`
	OwnerID       string         `dynamodbav:"owner_id" json:"ownerId"`
	Status        VideoStatus    `dynamodbav:"status" json:"status"`
	RawKey        string         `dynamodbav:"raw_key" json:"rawKey"`
	TranscodedKey string         `dynamodbav:"transcoded_key,omitempty" json:"transcodedKey,omitempty"`
	ThumbnailKey  string         `dynamodbav:"thumbnail_key,omitempty" json:"thumbnailKey,omitempty"`
	FrameKeys     []string       `dynamodbav:"frame_keys,omitempty" json:"frameKeys,omitempty"`
	Metadata      *VideoMetadata `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`
	FailedStage   Stage          `dynamodbav:"failed_stage,omitempty" json:"failedStage,omitempty"`
	ErrorMessage  string         `dynamodbav:"error_message,omitempty" json:"errorMessage,omitempty"`
	CreatedAt     string         `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt     string         `dynamodbav:"updated_at" json:"updatedAt"`
	ProcessedAt   string         `dynamodbav:"processed_at,omitempty" json:"processedAt,omitempty"`
}

// VideoPK returns the partition key of a video record.
func VideoPK(videoID string) string {
	return "VIDEO#" + videoID
}

// VideoSK is the sort key shared by all video records.
const VideoSK = "METADATA"

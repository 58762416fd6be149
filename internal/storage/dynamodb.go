package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/amillerrr/video-ingest/pkg/models"
)

// DynamoDBAPI is the subset of the DynamoDB client the repository uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// VideoRepository persists the processing state and artifact keys of each job.
type VideoRepository struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(client DynamoDBAPI, tableName string) (*VideoRepository, error) {
	if tableName == "" {
		return nil, errors.New("DynamoDB table name is required")
	}
	return &VideoRepository{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}, nil
}

func (r *VideoRepository) key(videoID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: models.VideoPK(videoID)},
		"sk": &types.AttributeValueMemberS{Value: models.VideoSK},
	}
}

func (r *VideoRepository) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

// MarkProcessing creates or resets the record for job as processing. Reruns of
// the same job id clear the previous failure.
func (r *VideoRepository) MarkProcessing(ctx context.Context, job *models.JobRequest) error {
	now := r.timestamp()

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(job.JobID),
		UpdateExpression: aws.String(`
			SET #status = :status,
			    video_id = :video_id,
			    owner_id = :owner_id,
			    raw_key = :raw_key,
			    gsi1pk = :gsi1pk,
			    gsi1sk = if_not_exists(gsi1sk, :gsi1sk),
			    created_at = if_not_exists(created_at, :now),
			    updated_at = :now
			REMOVE failed_stage, error_message
		`),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":   &types.AttributeValueMemberS{Value: string(models.StatusProcessing)},
			":video_id": &types.AttributeValueMemberS{Value: job.JobID},
			":owner_id": &types.AttributeValueMemberS{Value: job.OwnerID},
			":raw_key":  &types.AttributeValueMemberS{Value: job.RawVideoKey},
			":gsi1pk":   &types.AttributeValueMemberS{Value: "OWNER#" + job.OwnerID},
			":gsi1sk":   &types.AttributeValueMemberS{Value: now + "#" + job.JobID},
			":now":      &types.AttributeValueMemberS{Value: now},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mark video processing: %w", err)
	}

	return nil
}

// CompleteProcessing records the artifact set of a successful job.
func (r *VideoRepository) CompleteProcessing(ctx context.Context, videoID string, artifacts *models.ArtifactSet) error {
	now := r.timestamp()

	metaAV, err := attributevalue.Marshal(artifacts.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	framesAV, err := attributevalue.Marshal(artifacts.FrameKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal frame keys: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(videoID),
		UpdateExpression: aws.String(`
			SET #status = :status,
			    updated_at = :now,
			    processed_at = :now,
			    transcoded_key = :transcoded_key,
			    thumbnail_key = :thumbnail_key,
			    frame_keys = :frame_keys,
			    metadata = :metadata
		`),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":         &types.AttributeValueMemberS{Value: string(models.StatusCompleted)},
			":now":            &types.AttributeValueMemberS{Value: now},
			":transcoded_key": &types.AttributeValueMemberS{Value: artifacts.TranscodedKey},
			":thumbnail_key":  &types.AttributeValueMemberS{Value: artifacts.ThumbnailKey},
			":frame_keys":     framesAV,
			":metadata":       metaAV,
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrVideoNotFound
		}
		return fmt.Errorf("failed to complete video: %w", err)
	}

	return nil
}

// FailProcessing marks a video as failed at stage.
func (r *VideoRepository) FailProcessing(ctx context.Context, videoID string, stage models.Stage, errorMessage string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              r.key(videoID),
		UpdateExpression: aws.String("SET #status = :status, updated_at = :now, failed_stage = :stage, error_message = :error"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(models.StatusFailed)},
			":now":    &types.AttributeValueMemberS{Value: r.timestamp()},
			":stage":  &types.AttributeValueMemberS{Value: string(stage)},
			":error":  &types.AttributeValueMemberS{Value: errorMessage},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mark video as failed: %w", err)
	}

	return nil
}

// GetVideo retrieves a video record by ID.
func (r *VideoRepository) GetVideo(ctx context.Context, videoID string) (*models.VideoRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(videoID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrVideoNotFound
	}

	var video models.VideoRecord
	if err := attributevalue.UnmarshalMap(result.Item, &video); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}
	if !video.Status.IsValid() {
		return nil, fmt.Errorf("video %s has unknown status %q", videoID, video.Status)
	}

	return &video, nil
}

package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/video-ingest/internal/config"
	"github.com/amillerrr/video-ingest/internal/metrics"
	"github.com/amillerrr/video-ingest/pkg/models"
)

// MaxConcurrentUploads bounds parallel PutObject calls within one UploadAll.
const MaxConcurrentUploads = 5

// OwnerMetadataKey is the object metadata entry carrying the job owner.
const OwnerMetadataKey = "owner-id"

var tracer = otel.Tracer("media-storage")

// S3API is the subset of the S3 client the gateway uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// LoadAWSConfig loads the shared AWS configuration with tracing middleware installed.
func LoadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWS.Region),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}

	otelaws.AppendMiddlewares(&awsCfg.APIOptions)
	return awsCfg, nil
}

// NewS3Client creates an S3 client, honouring a custom endpoint for
// S3-compatible stores.
func NewS3Client(awsCfg aws.Config, cfg config.AWSConfig) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3ForcePathStyle
	})
}

// Object is a local file destined for a key in the processed bucket.
type Object struct {
	LocalPath   string
	Key         string
	ContentType string
}

type uploadOptions struct {
	ownerID string
}

// UploadOption customizes an upload.
type UploadOption func(*uploadOptions)

// WithOwner tags the object with the id of the user who owns it.
func WithOwner(ownerID string) UploadOption {
	return func(o *uploadOptions) {
		o.ownerID = ownerID
	}
}

// Gateway moves objects between S3 and the local scratch directory.
type Gateway struct {
	client          S3API
	rawBucket       string
	processedBucket string
	log             *slog.Logger
}

// NewGateway creates a new Gateway.
func NewGateway(client S3API, rawBucket, processedBucket string, log *slog.Logger) *Gateway {
	return &Gateway{
		client:          client,
		rawBucket:       rawBucket,
		processedBucket: processedBucket,
		log:             log,
	}
}

// Download streams the raw object at key to destPath. A partially written
// file is removed on failure.
func (g *Gateway) Download(ctx context.Context, key, destPath string) (int64, error) {
	ctx, span := tracer.Start(ctx, "s3-download")
	defer span.End()
	span.SetAttributes(
		attribute.String("s3.bucket", g.rawBucket),
		attribute.String("s3.key", key),
	)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, fmt.Errorf("%w: failed to create download directory: %w", models.ErrStorage, err)
	}

	result, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.rawBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: get %s: %w", models.ErrStorage, key, err)
	}
	defer result.Body.Close()

	file, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create %s: %w", models.ErrStorage, destPath, err)
	}

	written, err := io.Copy(file, result.Body)
	if err != nil {
		file.Close()
		os.Remove(destPath)
		return 0, fmt.Errorf("%w: read %s: %w", models.ErrStorage, key, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("%w: failed to close %s: %w", models.ErrStorage, destPath, err)
	}

	metrics.BytesTransferred.WithLabelValues("download").Add(float64(written))
	span.SetAttributes(attribute.Int64("s3.size_bytes", written))
	g.log.InfoContext(ctx, "Downloaded raw video", "key", key, "sizeBytes", written)

	return written, nil
}

// Upload puts localPath at key in the processed bucket. Existing objects are
// overwritten.
func (g *Gateway) Upload(ctx context.Context, localPath, key, contentType string, opts ...UploadOption) error {
	ctx, span := tracer.Start(ctx, "s3-upload")
	defer span.End()
	span.SetAttributes(
		attribute.String("s3.bucket", g.processedBucket),
		attribute.String("s3.key", key),
	)

	var o uploadOptions
	for _, opt := range opts {
		opt(&o)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %w", models.ErrStorage, localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("%w: failed to stat %s: %w", models.ErrStorage, localPath, err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(g.processedBucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	}
	if o.ownerID != "" {
		input.Metadata = map[string]string{OwnerMetadataKey: o.ownerID}
	}

	if _, err := g.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: put %s: %w", models.ErrStorage, key, err)
	}

	metrics.BytesTransferred.WithLabelValues("upload").Add(float64(info.Size()))
	g.log.DebugContext(ctx, "Uploaded object", "key", key, "sizeBytes", info.Size())
	return nil
}

// UploadAll uploads objects in parallel and returns the first error. Objects
// already stored when an error occurs are left in place.
func (g *Gateway) UploadAll(ctx context.Context, objects []Object, opts ...UploadOption) error {
	ctx, span := tracer.Start(ctx, "s3-upload-batch")
	defer span.End()

	var uploaded atomic.Int64
	var firstErr atomic.Pointer[error]

	sem := make(chan struct{}, MaxConcurrentUploads)
	var wg sync.WaitGroup

	for _, obj := range objects {
		if firstErr.Load() != nil {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return fmt.Errorf("%w: during upload: %w", models.ErrContextCanceled, ctx.Err())
		}

		wg.Add(1)
		go func(obj Object) {
			defer wg.Done()
			defer func() { <-sem }()

			if firstErr.Load() != nil {
				return
			}
			if err := g.Upload(ctx, obj.LocalPath, obj.Key, obj.ContentType, opts...); err != nil {
				firstErr.CompareAndSwap(nil, &err)
				return
			}
			uploaded.Add(1)
		}(obj)
	}

	wg.Wait()

	if errPtr := firstErr.Load(); errPtr != nil {
		return *errPtr
	}

	span.SetAttributes(attribute.Int64("files.uploaded", uploaded.Load()))
	return nil
}

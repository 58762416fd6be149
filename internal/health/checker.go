package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Configuration constants
const (
	DefaultCacheTTL       = 10 * time.Second
	DefaultCheckTimeout   = 5 * time.Second
	DefaultDeepCheckLimit = 10 * time.Second
)

// Component states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health check response.
type Status struct {
	Status    string                    `json:"status"`
	Service   string                    `json:"service"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks,omitempty"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// S3Client defines the S3 operations needed for health checks.
type S3Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// SQSClient defines the SQS operations needed for health checks.
type SQSClient interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// DynamoDBClient defines the DynamoDB operations needed for health checks.
type DynamoDBClient interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Toolchain reports whether the encoding binaries can be run.
type Toolchain interface {
	IsEncoderAvailable(ctx context.Context) bool
	IsInspectorAvailable(ctx context.Context) bool
}

// Config holds health checker configuration.
type Config struct {
	ServiceName    string
	S3Client       S3Client
	S3Bucket       string
	SQSClient      SQSClient
	SQSQueueURL    string
	DynamoClient   DynamoDBClient
	DynamoTable    string
	Toolchain      Toolchain
	Logger         *slog.Logger
	CacheTTL       time.Duration
	CheckTimeout   time.Duration
	DeepCheckLimit time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig(serviceName string, logger *slog.Logger) *Config {
	return &Config{
		ServiceName:    serviceName,
		Logger:         logger,
		CacheTTL:       DefaultCacheTTL,
		CheckTimeout:   DefaultCheckTimeout,
		DeepCheckLimit: DefaultDeepCheckLimit,
	}
}

type probe func(ctx context.Context) error

// Checker provides health check functionality.
type Checker struct {
	config        *Config
	mu            sync.RWMutex
	lastCheck     time.Time
	lastStatus    *Status
	lastDeepCheck time.Time
}

// NewChecker creates a new health checker with the given configuration.
func NewChecker(config *Config) *Checker {
	return &Checker{
		config: config,
	}
}

// probes returns the configured dependency checks keyed by component name.
func (c *Checker) probes() map[string]probe {
	cfg := c.config
	probes := make(map[string]probe)

	if cfg.S3Client != nil && cfg.S3Bucket != "" {
		probes["s3"] = func(ctx context.Context) error {
			_, err := cfg.S3Client.HeadBucket(ctx, &s3.HeadBucketInput{
				Bucket: aws.String(cfg.S3Bucket),
			})
			return err
		}
	}

	if cfg.SQSClient != nil && cfg.SQSQueueURL != "" {
		probes["sqs"] = func(ctx context.Context) error {
			_, err := cfg.SQSClient.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
				QueueUrl: aws.String(cfg.SQSQueueURL),
				AttributeNames: []types.QueueAttributeName{
					types.QueueAttributeNameApproximateNumberOfMessages,
				},
			})
			return err
		}
	}

	if cfg.DynamoClient != nil && cfg.DynamoTable != "" {
		probes["dynamodb"] = func(ctx context.Context) error {
			_, err := cfg.DynamoClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{
				TableName: aws.String(cfg.DynamoTable),
			})
			return err
		}
	}

	if cfg.Toolchain != nil {
		probes["ffmpeg"] = func(ctx context.Context) error {
			if !cfg.Toolchain.IsEncoderAvailable(ctx) {
				return errors.New("ffmpeg -version failed")
			}
			return nil
		}
		probes["ffprobe"] = func(ctx context.Context) error {
			if !cfg.Toolchain.IsInspectorAvailable(ctx) {
				return errors.New("ffprobe -version failed")
			}
			return nil
		}
	}

	return probes
}

// Check performs health checks on all dependencies.
// If deep is false, a cached result may be returned.
func (c *Checker) Check(ctx context.Context, deep bool) *Status {
	if !deep {
		c.mu.RLock()
		if c.lastStatus != nil && time.Since(c.lastCheck) < c.config.CacheTTL {
			status := c.lastStatus
			c.mu.RUnlock()
			return status
		}
		c.mu.RUnlock()
	}

	status := &Status{
		Status:    StatusHealthy,
		Service:   c.config.ServiceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}

	if deep {
		var mu sync.Mutex
		var wg sync.WaitGroup
		for name, p := range c.probes() {
			wg.Add(1)
			go func(name string, p probe) {
				defer wg.Done()
				check := c.run(ctx, p)
				mu.Lock()
				status.Checks[name] = check
				if check.Status != StatusHealthy {
					status.Status = StatusDegraded
				}
				mu.Unlock()
			}(name, p)
		}
		wg.Wait()
	}

	c.mu.Lock()
	c.lastCheck = time.Now()
	c.lastStatus = status
	c.mu.Unlock()

	return status
}

func (c *Checker) run(ctx context.Context, p probe) ComponentCheck {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.config.CheckTimeout)
	defer cancel()

	err := p(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{
			Status:  StatusUnhealthy,
			Latency: latency.String(),
			Error:   err.Error(),
		}
	}

	return ComponentCheck{
		Status:  StatusHealthy,
		Latency: latency.String(),
	}
}

// CanPerformDeepCheck returns true if enough time has passed since the last deep check.
func (c *Checker) CanPerformDeepCheck() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastDeepCheck) >= c.config.DeepCheckLimit
}

// RecordDeepCheck records the time of a deep health check.
func (c *Checker) RecordDeepCheck() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDeepCheck = time.Now()
}

// Handler returns an HTTP handler for liveness checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.Check(r.Context(), false)
		c.writeResponse(w, status, httpStatus(status))
	}
}

// DeepHandler returns an HTTP handler that probes every dependency.
func (c *Checker) DeepHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.CanPerformDeepCheck() {
			// Copy so the cached status is not mutated.
			cached := c.Check(r.Context(), false)
			status := *cached
			status.Checks = make(map[string]ComponentCheck, len(cached.Checks)+1)
			for k, v := range cached.Checks {
				status.Checks[k] = v
			}
			status.Checks["rate_limited"] = ComponentCheck{
				Status: "info",
				Error:  "Deep health check rate limited, returning cached result",
			}

			w.Header().Set("Retry-After", "10")
			c.writeResponse(w, &status, http.StatusTooManyRequests)
			return
		}

		c.RecordDeepCheck()
		status := c.Check(r.Context(), true)
		c.writeResponse(w, status, httpStatus(status))
	}
}

func httpStatus(status *Status) int {
	if status.Status != StatusHealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (c *Checker) writeResponse(w http.ResponseWriter, status *Status, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(status); err != nil && c.config.Logger != nil {
		c.config.Logger.Error("Failed to encode health check response", "error", err)
	}
}

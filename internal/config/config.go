package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Environment   string
	AWS           AWSConfig
	Toolchain     ToolchainConfig
	Pipeline      PipelineConfig
	Encoding      EncodingConfig
	Worker        WorkerConfig
	Observability ObservabilityConfig
}

// AWSConfig holds AWS-specific configuration.
type AWSConfig struct {
	Region           string
	RawBucket        string
	ProcessedBucket  string
	S3Endpoint       string
	S3ForcePathStyle bool
	SQSQueueURL      string
	DynamoDBTable    string
}

// ToolchainConfig locates the encoder and inspector binaries and bounds the
// wait for them to become runnable.
type ToolchainConfig struct {
	FFmpegPath   string
	FFprobePath  string
	ProbeTimeout time.Duration
	WaitAttempts int
	WaitInterval time.Duration
}

// WaitBudget is the longest a toolchain wait can take: every attempt probes
// both binaries up to ProbeTimeout, with WaitInterval between attempts.
func (t ToolchainConfig) WaitBudget() time.Duration {
	attempts := max(t.WaitAttempts, 1)
	return time.Duration(attempts)*2*t.ProbeTimeout + time.Duration(attempts-1)*t.WaitInterval
}

// PipelineConfig holds per-job policy.
type PipelineConfig struct {
	ScratchDir      string
	ThumbnailOffset float64
	StepTimeout     time.Duration
	JobTimeout      time.Duration
}

// EncodingConfig holds the transcode quality/speed trade-off.
type EncodingConfig struct {
	VideoCRF     int
	VideoPreset  string
	AudioBitrate string
}

// WorkerConfig holds worker-specific configuration.
type WorkerConfig struct {
	MaxConcurrentJobs int
	MetricsPort       int
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTLPEndpoint string
	LogLevel     string
}

// Default values
const (
	DefaultMetricsPort       = 2112
	DefaultMaxConcurrentJobs = 1
	DefaultOTLPEndpoint      = "localhost:4317"
	DefaultRegion            = "us-west-2"
	DefaultLogLevel          = "info"

	DefaultFFmpegPath   = "ffmpeg"
	DefaultFFprobePath  = "ffprobe"
	DefaultProbeTimeout = 5 * time.Second
	DefaultWaitAttempts = 10
	DefaultWaitInterval = 2 * time.Second

	DefaultThumbnailOffset = 3.0
	DefaultStepTimeout     = 15 * time.Minute
	DefaultJobTimeout      = 30 * time.Minute

	DefaultVideoCRF     = 23
	DefaultVideoPreset  = "fast"
	DefaultAudioBitrate = "128k"
)

// DefaultScratchDir is the scratch root used when SCRATCH_DIR is unset.
func DefaultScratchDir() string {
	return filepath.Join(os.TempDir(), "video-ingest")
}

// Load reads configuration from environment variables and returns a Config.
func Load() (*Config, error) {
	rawBucket := os.Getenv("S3_BUCKET")

	cfg := &Config{
		Environment: getEnv("ENV", "dev"),
		AWS: AWSConfig{
			Region:           getEnv("AWS_REGION", DefaultRegion),
			RawBucket:        rawBucket,
			ProcessedBucket:  getEnv("PROCESSED_BUCKET", rawBucket),
			S3Endpoint:       os.Getenv("S3_ENDPOINT"),
			S3ForcePathStyle: getEnvBool("S3_FORCE_PATH_STYLE", false),
			SQSQueueURL:      os.Getenv("SQS_QUEUE_URL"),
			DynamoDBTable:    os.Getenv("DYNAMODB_TABLE"),
		},
		Toolchain: ToolchainConfig{
			FFmpegPath:   getEnv("FFMPEG_PATH", DefaultFFmpegPath),
			FFprobePath:  getEnv("FFPROBE_PATH", DefaultFFprobePath),
			ProbeTimeout: getEnvDuration("TOOLCHAIN_PROBE_TIMEOUT", DefaultProbeTimeout),
			WaitAttempts: getEnvInt("TOOLCHAIN_WAIT_ATTEMPTS", DefaultWaitAttempts),
			WaitInterval: getEnvDuration("TOOLCHAIN_WAIT_INTERVAL", DefaultWaitInterval),
		},
		Pipeline: PipelineConfig{
			ScratchDir:      getEnv("SCRATCH_DIR", DefaultScratchDir()),
			ThumbnailOffset: getEnvFloat("THUMBNAIL_OFFSET", DefaultThumbnailOffset),
			StepTimeout:     getEnvDuration("STEP_TIMEOUT", DefaultStepTimeout),
			JobTimeout:      getEnvDuration("JOB_TIMEOUT", DefaultJobTimeout),
		},
		Encoding: EncodingConfig{
			VideoCRF:     getEnvInt("VIDEO_CRF", DefaultVideoCRF),
			VideoPreset:  getEnv("VIDEO_PRESET", DefaultVideoPreset),
			AudioBitrate: getEnv("AUDIO_BITRATE", DefaultAudioBitrate),
		},
		Worker: WorkerConfig{
			MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", DefaultMaxConcurrentJobs),
			MetricsPort:       getEnvInt("METRICS_PORT", DefaultMetricsPort),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
			LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		},
	}

	return cfg, nil
}

// LoadPipeline loads configuration required to run a single pipeline job.
func LoadPipeline() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidatePipeline(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWorker loads configuration required for the Worker service.
func LoadWorker() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidatePipeline validates configuration required by the pipeline itself.
func (c *Config) ValidatePipeline() error {
	errs := c.pipelineErrors()
	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateWorker validates configuration required for the Worker service.
func (c *Config) ValidateWorker() error {
	errs := c.pipelineErrors()

	if c.AWS.SQSQueueURL == "" {
		errs = append(errs, "SQS_QUEUE_URL is required")
	}
	if c.AWS.DynamoDBTable == "" {
		errs = append(errs, "DYNAMODB_TABLE is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) pipelineErrors() []string {
	var errs []string

	if c.AWS.Region == "" {
		errs = append(errs, "AWS_REGION is required")
	}
	if c.AWS.RawBucket == "" {
		errs = append(errs, "S3_BUCKET is required")
	}
	if c.AWS.ProcessedBucket == "" {
		errs = append(errs, "PROCESSED_BUCKET is required")
	}
	if c.Toolchain.FFmpegPath == "" {
		errs = append(errs, "FFMPEG_PATH must not be empty")
	}
	if c.Toolchain.FFprobePath == "" {
		errs = append(errs, "FFPROBE_PATH must not be empty")
	}
	if c.Pipeline.ScratchDir == "" {
		errs = append(errs, "SCRATCH_DIR must not be empty")
	}
	if c.Pipeline.ThumbnailOffset <= 0 {
		errs = append(errs, "THUMBNAIL_OFFSET must be positive")
	}
	if c.Encoding.VideoCRF < 0 || c.Encoding.VideoCRF > 51 {
		errs = append(errs, "VIDEO_CRF must be between 0 and 51")
	}

	return errs
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

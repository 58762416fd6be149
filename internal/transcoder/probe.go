package transcoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/video-ingest/pkg/models"
)

// probeOutput is the subset of ffprobe's JSON report the pipeline reads.
type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
		BitRate      string `json:"bit_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// Prober extracts video metadata with ffprobe.
type Prober struct {
	config *FFmpegConfig
}

// NewProber creates a new Prober.
func NewProber(config *FFmpegConfig) *Prober {
	return &Prober{config: config}
}

// Probe inspects the local file at path.
func (p *Prober) Probe(ctx context.Context, path string) (*models.VideoMetadata, error) {
	ctx, span := tracer.Start(ctx, "ffprobe")
	defer span.End()

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "v:0",
		path,
	}

	result, err := p.config.runStep(ctx, p.config.FFprobePath, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrProbe, err)
	}

	meta, err := ParseProbeOutput(result.Stdout)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Float64("video.duration", meta.DurationSeconds),
		attribute.Int("video.width", meta.Width),
		attribute.Int("video.height", meta.Height),
	)

	return meta, nil
}

// ParseProbeOutput converts an ffprobe JSON report into VideoMetadata.
func ParseProbeOutput(data []byte) (*models.VideoMetadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: unparseable report: %v", models.ErrProbe, err)
	}

	idx := -1
	for i, s := range out.Streams {
		if s.CodecType == "video" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: no video stream", models.ErrProbe)
	}
	stream := out.Streams[idx]

	if stream.Width <= 0 || stream.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", models.ErrProbe, stream.Width, stream.Height)
	}

	duration, err := firstPositiveFloat(out.Format.Duration, stream.Duration)
	if err != nil {
		return nil, fmt.Errorf("%w: duration: %v", models.ErrProbe, err)
	}

	frameRate, err := ParseFrameRate(stream.RFrameRate)
	if err != nil {
		frameRate, err = ParseFrameRate(stream.AvgFrameRate)
		if err != nil {
			return nil, fmt.Errorf("%w: frame rate: %v", models.ErrProbe, err)
		}
	}

	// Bitrate is informational; some containers omit it.
	var bitrate int64
	for _, s := range []string{out.Format.BitRate, stream.BitRate} {
		if br, err := strconv.ParseInt(s, 10, 64); err == nil && br > 0 {
			bitrate = br
			break
		}
	}

	return &models.VideoMetadata{
		DurationSeconds: duration,
		Width:           stream.Width,
		Height:          stream.Height,
		Bitrate:         bitrate,
		FrameRate:       frameRate,
	}, nil
}

// ParseFrameRate evaluates a rational such as "30000/1001" or a plain decimal.
func ParseFrameRate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty frame rate")
	}

	num, den, found := strings.Cut(s, "/")
	n, err := parseFinite(num)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	d := 1.0
	if found {
		d, err = parseFinite(den)
		if err != nil {
			return 0, fmt.Errorf("invalid frame rate %q", s)
		}
	}
	if d <= 0 || n <= 0 {
		return 0, fmt.Errorf("undefined frame rate %q", s)
	}
	return n / d, nil
}

// parseFinite parses s as a float, rejecting NaN and infinities.
func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return f, nil
}

func firstPositiveFloat(values ...string) (float64, error) {
	for _, v := range values {
		if f, err := parseFinite(v); err == nil && f > 0 {
			return f, nil
		}
	}
	return 0, errors.New("missing or non-positive")
}

package transcoder

import "fmt"

// EncodeSettings defines the codec pairing and quality/speed trade-off of the
// web-optimized output.
type EncodeSettings struct {
	VideoCodec   string
	AudioCodec   string
	Preset       string
	CRF          int
	AudioBitrate string
	PixelFormat  string
}

// DefaultEncodeSettings produces H.264/AAC in yuv420p, which every browser plays.
var DefaultEncodeSettings = EncodeSettings{
	VideoCodec:   "libx264",
	AudioCodec:   "aac",
	Preset:       "fast",
	CRF:          23,
	AudioBitrate: "128k",
	PixelFormat:  "yuv420p",
}

// Still-image policy shared by the thumbnail and frame sampler.
const (
	// StillQuality is the mjpeg qscale; 2 is near-lossless.
	StillQuality = 2

	// FrameWidth and FrameHeight are the canvas every sampled frame is letterboxed onto.
	FrameWidth  = 1280
	FrameHeight = 720

	// DefaultThumbnailOffset is the seek position of the poster frame in seconds.
	DefaultThumbnailOffset = 3.0
)

// EvenScaleFilter rounds both dimensions down to the nearest even number.
// libx264 with yuv420p rejects odd widths and heights.
const EvenScaleFilter = "scale=trunc(iw/2)*2:trunc(ih/2)*2"

// EvenDimensions returns the output size EvenScaleFilter produces for a w×h input.
func EvenDimensions(width, height int) (int, int) {
	return width &^ 1, height &^ 1
}

// BuildLetterboxFilter scales to fit inside width×height while keeping the aspect
// ratio, then pads with centered bars.
func BuildLetterboxFilter(width, height int) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		width, height, width, height,
	)
}

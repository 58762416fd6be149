package transcoder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amillerrr/video-ingest/internal/config"
	"github.com/amillerrr/video-ingest/pkg/models"
)

// fakeRunner records invocations and writes the last argument as an output
// file, the way ffmpeg would.
type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	stdout   []byte
	failCall int // 1-based; 0 never fails
	noOutput bool
	failAll  bool
	deadline time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, append([]string{name}, args...))
	if dl, ok := ctx.Deadline(); ok {
		f.deadline = time.Until(dl)
	}

	if f.failAll || len(f.calls) == f.failCall {
		return &Result{Stderr: "boom"}, &ToolError{Tool: name, Args: args, ExitCode: 1, Stderr: "boom", Err: errors.New("exit status 1")}
	}

	if !f.noOutput && len(args) > 0 {
		out := args[len(args)-1]
		if strings.HasSuffix(out, ".mp4") || strings.HasSuffix(out, ".jpg") {
			if err := os.WriteFile(out, []byte("data"), 0644); err != nil {
				return nil, err
			}
		}
	}
	return &Result{Stdout: f.stdout}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig(r Runner) *FFmpegConfig {
	cfg := DefaultFFmpegConfig(slog.New(slog.NewTextHandler(io.Discard, nil)))
	cfg.Runner = r
	return cfg
}

func argValue(args []string, flag string) string {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

func TestTranscode_Args(t *testing.T) {
	r := &fakeRunner{}
	tr := NewTranscoder(testConfig(r))

	out := filepath.Join(t.TempDir(), "out", "job.mp4")
	if err := tr.Transcode(context.Background(), "/in/raw.mov", out); err != nil {
		t.Fatalf("Transcode() error = %v", err)
	}

	if len(r.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(r.calls))
	}
	args := r.calls[0]
	checks := map[string]string{
		"-i":        "/in/raw.mov",
		"-c:v":      "libx264",
		"-c:a":      "aac",
		"-preset":   "fast",
		"-crf":      "23",
		"-b:a":      "128k",
		"-pix_fmt":  "yuv420p",
		"-vf":       EvenScaleFilter,
		"-movflags": "+faststart",
	}
	for flag, want := range checks {
		if got := argValue(args, flag); got != want {
			t.Errorf("%s = %q, want %q", flag, got, want)
		}
	}
	if args[len(args)-1] != out {
		t.Errorf("output = %s, want %s", args[len(args)-1], out)
	}
}

func TestTranscode_Failure(t *testing.T) {
	r := &fakeRunner{failAll: true}
	tr := NewTranscoder(testConfig(r))

	err := tr.Transcode(context.Background(), "in.mov", filepath.Join(t.TempDir(), "job.mp4"))
	if !errors.Is(err, models.ErrTranscode) {
		t.Fatalf("error = %v, want ErrTranscode", err)
	}
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("error should carry *ToolError, got %T", err)
	}
	if toolErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", toolErr.ExitCode)
	}
}

func TestTranscode_EmptyOutput(t *testing.T) {
	r := &fakeRunner{noOutput: true}
	tr := NewTranscoder(testConfig(r))

	err := tr.Transcode(context.Background(), "in.mov", filepath.Join(t.TempDir(), "job.mp4"))
	if !errors.Is(err, models.ErrTranscode) {
		t.Fatalf("error = %v, want ErrTranscode", err)
	}
}

func TestEvenDimensions(t *testing.T) {
	tests := []struct {
		w, h         int
		wantW, wantH int
	}{
		{1920, 1080, 1920, 1080},
		{1921, 1081, 1920, 1080},
		{853, 480, 852, 480},
		{1, 1, 0, 0},
	}

	for _, tt := range tests {
		gotW, gotH := EvenDimensions(tt.w, tt.h)
		if gotW != tt.wantW || gotH != tt.wantH {
			t.Errorf("EvenDimensions(%d, %d) = %dx%d, want %dx%d", tt.w, tt.h, gotW, gotH, tt.wantW, tt.wantH)
		}
		if gotW%2 != 0 || gotH%2 != 0 {
			t.Errorf("EvenDimensions(%d, %d) returned odd size", tt.w, tt.h)
		}
	}
}

func TestBuildLetterboxFilter(t *testing.T) {
	want := "scale=1280:720:force_original_aspect_ratio=decrease,pad=1280:720:(ow-iw)/2:(oh-ih)/2"
	if got := BuildLetterboxFilter(FrameWidth, FrameHeight); got != want {
		t.Errorf("BuildLetterboxFilter() = %q, want %q", got, want)
	}
}

func TestFrameOffsets(t *testing.T) {
	tests := []struct {
		duration float64
		want     [models.FrameCount]float64
	}{
		{47.5, [models.FrameCount]float64{0, 4.75, 11.875, 23.75, 42.75}},
		{10, [models.FrameCount]float64{0, 1, 2.5, 5, 9}},
		{0.5, [models.FrameCount]float64{0, 0.05, 0.125, 0.25, 0.45}},
	}

	for _, tt := range tests {
		got := FrameOffsets(tt.duration)
		for i := range got {
			if math.Abs(got[i]-tt.want[i]) > 1e-9 {
				t.Errorf("FrameOffsets(%v)[%d] = %v, want %v", tt.duration, i, got[i], tt.want[i])
			}
			if i > 0 && got[i] < got[i-1] {
				t.Errorf("FrameOffsets(%v) not ascending at %d", tt.duration, i)
			}
			if got[i] >= tt.duration {
				t.Errorf("FrameOffsets(%v)[%d] = %v, past end of video", tt.duration, i, got[i])
			}
		}
	}
}

func TestSampleFrames(t *testing.T) {
	r := &fakeRunner{}
	s := NewFrameSampler(testConfig(r))
	dir := filepath.Join(t.TempDir(), "frames")

	paths, err := s.SampleFrames(context.Background(), "in.mp4", dir, "job-1", 47.5)
	if err != nil {
		t.Fatalf("SampleFrames() error = %v", err)
	}

	if len(paths) != models.FrameCount {
		t.Fatalf("len(paths) = %d, want %d", len(paths), models.FrameCount)
	}
	wantSeeks := []string{"0.000", "4.750", "11.875", "23.750", "42.750"}
	for i, p := range paths {
		if filepath.Base(p) != models.FrameName(i+1) {
			t.Errorf("paths[%d] = %s, want %s", i, filepath.Base(p), models.FrameName(i+1))
		}
		if got := argValue(r.calls[i], "-ss"); got != wantSeeks[i] {
			t.Errorf("frame %d seek = %s, want %s", i+1, got, wantSeeks[i])
		}
		if got := argValue(r.calls[i], "-vf"); got != BuildLetterboxFilter(1280, 720) {
			t.Errorf("frame %d filter = %s", i+1, got)
		}
	}
}

func TestSampleFrames_FailureNamesPercentage(t *testing.T) {
	r := &fakeRunner{failCall: 3}
	s := NewFrameSampler(testConfig(r))

	paths, err := s.SampleFrames(context.Background(), "in.mp4", t.TempDir(), "job-1", 47.5)
	if err == nil {
		t.Fatal("SampleFrames() should fail")
	}
	if paths != nil {
		t.Errorf("paths = %v, want nil on failure", paths)
	}
	if !errors.Is(err, models.ErrFrameExtraction) {
		t.Errorf("error = %v, want ErrFrameExtraction", err)
	}

	var fe *FrameExtractionError
	if !errors.As(err, &fe) {
		t.Fatalf("error should be *FrameExtractionError, got %T", err)
	}
	if fe.Percentage != 25 || fe.Index != 3 {
		t.Errorf("failed frame = #%d at %v%%, want #3 at 25%%", fe.Index, fe.Percentage)
	}
	if !strings.Contains(err.Error(), "25%") {
		t.Errorf("error message %q should name the percentage", err.Error())
	}
	if r.callCount() != 3 {
		t.Errorf("calls = %d, want 3 (abort after failure)", r.callCount())
	}
}

func TestThumbnail(t *testing.T) {
	r := &fakeRunner{}
	th := NewThumbnailer(testConfig(r))
	out := filepath.Join(t.TempDir(), "thumb.jpg")

	err := th.Thumbnail(context.Background(), "in.mp4", out, ThumbnailOptions{Offset: 3, Duration: 60})
	if err != nil {
		t.Fatalf("Thumbnail() error = %v", err)
	}
	args := r.calls[0]
	if got := argValue(args, "-ss"); got != "3.000" {
		t.Errorf("-ss = %s, want 3.000", got)
	}
	if got := argValue(args, "-frames:v"); got != "1" {
		t.Errorf("-frames:v = %s, want 1", got)
	}
	if got := argValue(args, "-q:v"); got != "2" {
		t.Errorf("-q:v = %s, want 2", got)
	}
}

func TestThumbnail_OffsetPastEnd(t *testing.T) {
	r := &fakeRunner{}
	th := NewThumbnailer(testConfig(r))

	err := th.Thumbnail(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "t.jpg"), ThumbnailOptions{Offset: 3, Duration: 2})
	if !errors.Is(err, models.ErrThumbnail) {
		t.Fatalf("error = %v, want ErrThumbnail", err)
	}
	if r.callCount() != 0 {
		t.Errorf("calls = %d, want 0", r.callCount())
	}
}

func TestThumbnail_NoOutput(t *testing.T) {
	r := &fakeRunner{noOutput: true}
	th := NewThumbnailer(testConfig(r))

	err := th.Thumbnail(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "t.jpg"), ThumbnailOptions{Offset: 3})
	if !errors.Is(err, models.ErrThumbnail) {
		t.Fatalf("error = %v, want ErrThumbnail", err)
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"30000/1001", 29.97, false},
		{"25/1", 25, false},
		{"24", 24, false},
		{"0/0", 0, true},
		{"", 0, true},
		{"abc/1", 0, true},
		{"NaN", 0, true},
		{"Inf", 0, true},
		{"30/-1", 0, true},
		{"30/NaN", 0, true},
		{"-30/1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFrameRate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFrameRate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 0.01 {
				t.Errorf("ParseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

const sampleProbe = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1921, "height": 1081,
     "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001", "duration": "47.480000"}
  ],
  "format": {"duration": "47.500000", "bit_rate": "5000000"}
}`

func TestParseProbeOutput(t *testing.T) {
	meta, err := ParseProbeOutput([]byte(sampleProbe))
	if err != nil {
		t.Fatalf("ParseProbeOutput() error = %v", err)
	}
	if meta.DurationSeconds != 47.5 {
		t.Errorf("DurationSeconds = %v, want 47.5", meta.DurationSeconds)
	}
	if meta.Width != 1921 || meta.Height != 1081 {
		t.Errorf("dimensions = %dx%d, want 1921x1081", meta.Width, meta.Height)
	}
	if meta.Bitrate != 5000000 {
		t.Errorf("Bitrate = %d, want 5000000", meta.Bitrate)
	}
	if math.Abs(meta.FrameRate-29.97) > 0.01 {
		t.Errorf("FrameRate = %v, want ~29.97", meta.FrameRate)
	}
}

func TestParseProbeOutput_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `ffprobe: error`},
		{"no video stream", `{"streams":[{"codec_type":"audio"}],"format":{"duration":"10"}}`},
		{"zero dimensions", `{"streams":[{"codec_type":"video","width":0,"height":0,"r_frame_rate":"25/1"}],"format":{"duration":"10"}}`},
		{"missing duration", `{"streams":[{"codec_type":"video","width":640,"height":360,"r_frame_rate":"25/1"}],"format":{}}`},
		{"bad frame rate", `{"streams":[{"codec_type":"video","width":640,"height":360,"r_frame_rate":"0/0","avg_frame_rate":"0/0"}],"format":{"duration":"10"}}`},
		{"infinite duration", `{"streams":[{"codec_type":"video","width":640,"height":360,"r_frame_rate":"25/1","duration":"inf"}],"format":{"duration":"inf"}}`},
		{"NaN duration", `{"streams":[{"codec_type":"video","width":640,"height":360,"r_frame_rate":"25/1"}],"format":{"duration":"NaN"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProbeOutput([]byte(tt.data))
			if !errors.Is(err, models.ErrProbe) {
				t.Errorf("error = %v, want ErrProbe", err)
			}
		})
	}
}

func TestParseProbeOutput_FallsBackPastInfiniteFormatDuration(t *testing.T) {
	data := `{"streams":[{"codec_type":"video","width":640,"height":360,"r_frame_rate":"25/1","duration":"12.5"}],"format":{"duration":"inf"}}`
	meta, err := ParseProbeOutput([]byte(data))
	if err != nil {
		t.Fatalf("ParseProbeOutput() error = %v", err)
	}
	if meta.DurationSeconds != 12.5 {
		t.Errorf("DurationSeconds = %v, want 12.5 from the stream", meta.DurationSeconds)
	}
}

func TestParseProbeOutput_MissingBitrate(t *testing.T) {
	data := `{"streams":[{"codec_type":"video","width":640,"height":360,"r_frame_rate":"0/0","avg_frame_rate":"25/1"}],"format":{"duration":"10"}}`
	meta, err := ParseProbeOutput([]byte(data))
	if err != nil {
		t.Fatalf("ParseProbeOutput() error = %v", err)
	}
	if meta.Bitrate != 0 {
		t.Errorf("Bitrate = %d, want 0", meta.Bitrate)
	}
	if meta.FrameRate != 25 {
		t.Errorf("FrameRate = %v, want 25 from avg_frame_rate", meta.FrameRate)
	}
}

func TestProbe_Args(t *testing.T) {
	r := &fakeRunner{stdout: []byte(sampleProbe)}
	p := NewProber(testConfig(r))

	if _, err := p.Probe(context.Background(), "/scratch/raw"); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	call := r.calls[0]
	if call[0] != "ffprobe" {
		t.Errorf("binary = %s, want ffprobe", call[0])
	}
	if got := argValue(call, "-print_format"); got != "json" {
		t.Errorf("-print_format = %s, want json", got)
	}
	if call[len(call)-1] != "/scratch/raw" {
		t.Errorf("path = %s, want /scratch/raw", call[len(call)-1])
	}
}

// flipRunner fails until the given attempt number.
type flipRunner struct {
	mu        sync.Mutex
	calls     int
	availFrom int // counted in checker attempts; 0 never
	perCheck  int
	deadline  time.Duration
}

func (f *flipRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if dl, ok := ctx.Deadline(); ok {
		f.deadline = time.Until(dl)
	}
	attempt := (f.calls + f.perCheck - 1) / f.perCheck
	if f.availFrom > 0 && attempt >= f.availFrom {
		return &Result{}, nil
	}
	return nil, &ToolError{Tool: name, ExitCode: -1, Err: exec.ErrNotFound}
}

func TestChecker_ProbeTimeout(t *testing.T) {
	r := &flipRunner{availFrom: 1, perCheck: 1}
	c := NewChecker(testConfig(r))

	if !c.IsEncoderAvailable(context.Background()) {
		t.Fatal("IsEncoderAvailable() = false, want true")
	}
	if r.deadline <= 0 || r.deadline > 5*time.Second {
		t.Errorf("probe deadline = %v, want within 5s", r.deadline)
	}
}

func TestChecker_Unavailable(t *testing.T) {
	r := &flipRunner{perCheck: 1}
	c := NewChecker(testConfig(r))

	if c.IsEncoderAvailable(context.Background()) {
		t.Error("IsEncoderAvailable() = true, want false")
	}
	if c.IsInspectorAvailable(context.Background()) {
		t.Error("IsInspectorAvailable() = true, want false")
	}
}

func TestWaitReady_GivesUpAfterTenAttempts(t *testing.T) {
	// Encoder fails, so the inspector is never probed: one call per attempt.
	r := &flipRunner{perCheck: 1}
	var sleeps []time.Duration
	c := NewChecker(testConfig(r)).WithSleep(func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	})

	err := c.WaitReady(context.Background())
	if !errors.Is(err, models.ErrToolchainUnavailable) {
		t.Fatalf("error = %v, want ErrToolchainUnavailable", err)
	}
	if r.calls != 10 {
		t.Errorf("attempts = %d, want 10", r.calls)
	}
	if len(sleeps) != 9 {
		t.Errorf("sleeps = %d, want 9", len(sleeps))
	}
	for _, d := range sleeps {
		if d != 2*time.Second {
			t.Errorf("sleep = %v, want 2s", d)
		}
	}
}

func TestWaitReady_BecomesAvailable(t *testing.T) {
	// Two probes per successful attempt; failed attempts stop at the encoder.
	r := &flipRunner{availFrom: 4, perCheck: 1}
	c := NewChecker(testConfig(r)).WithSleep(func(context.Context, time.Duration) error { return nil })

	if err := c.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
}

func TestWaitReady_Canceled(t *testing.T) {
	r := &flipRunner{perCheck: 1}
	ctx, cancel := context.WithCancel(context.Background())
	c := NewChecker(testConfig(r)).WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	err := c.WaitReady(ctx)
	if !errors.Is(err, models.ErrContextCanceled) {
		t.Fatalf("error = %v, want ErrContextCanceled", err)
	}
	if r.calls != 1 {
		t.Errorf("attempts = %d, want 1", r.calls)
	}
}

func TestExecRunner_ExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := NewExecRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := r.Run(context.Background(), "sh", "-c", "echo failure detail >&2; exit 3")
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("error = %v, want *ToolError", err)
	}
	if toolErr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", toolErr.ExitCode)
	}
	if !strings.Contains(toolErr.Stderr, "failure detail") {
		t.Errorf("Stderr = %q, want captured detail", toolErr.Stderr)
	}
}

func TestExecRunner_Stdout(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := NewExecRunner(nil)

	res, err := r.Run(context.Background(), "sh", "-c", "printf ok")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(res.Stdout) != "ok" {
		t.Errorf("Stdout = %q, want ok", res.Stdout)
	}
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := NewExecRunner(nil)

	_, err := r.Run(context.Background(), "definitely-not-a-real-binary-xyz")
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("error = %v, want *ToolError", err)
	}
	if toolErr.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", toolErr.ExitCode)
	}
}

func TestNewFFmpegConfig(t *testing.T) {
	cfg := &config.Config{
		Toolchain: config.ToolchainConfig{
			FFmpegPath:   "/opt/bin/ffmpeg",
			FFprobePath:  "/opt/bin/ffprobe",
			ProbeTimeout: 3 * time.Second,
			WaitAttempts: 4,
			WaitInterval: time.Second,
		},
		Pipeline: config.PipelineConfig{StepTimeout: time.Minute},
		Encoding: config.EncodingConfig{VideoCRF: 28, VideoPreset: "veryfast", AudioBitrate: "96k"},
	}

	c := NewFFmpegConfig(cfg, nil)

	if c.FFmpegPath != "/opt/bin/ffmpeg" || c.FFprobePath != "/opt/bin/ffprobe" {
		t.Errorf("paths = %q, %q", c.FFmpegPath, c.FFprobePath)
	}
	if c.ProbeTimeout != 3*time.Second || c.WaitAttempts != 4 || c.WaitInterval != time.Second {
		t.Errorf("wait policy = %v/%d/%v", c.ProbeTimeout, c.WaitAttempts, c.WaitInterval)
	}
	if c.StepTimeout != time.Minute {
		t.Errorf("StepTimeout = %v", c.StepTimeout)
	}
	if c.Settings.CRF != 28 || c.Settings.Preset != "veryfast" || c.Settings.AudioBitrate != "96k" {
		t.Errorf("Settings = %+v", c.Settings)
	}
	if c.Settings.VideoCodec != "libx264" || c.Settings.PixelFormat != "yuv420p" {
		t.Errorf("codec defaults lost: %+v", c.Settings)
	}
	if c.Logger == nil || c.Runner == nil {
		t.Error("logger and runner must default")
	}
}

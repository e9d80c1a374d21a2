package video

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // stderr tail kept for diagnostics

	// endSeekEpsilon backs the seek point off the reported duration.
	// Seeking exactly to the end yields no frame from many containers.
	endSeekEpsilon = 0.1
)

// FrameExtractor pulls a single still frame out of a video file.
// Implementations return an error on any failure; callers must treat
// a failed extraction as "do not propagate", never as a crash.
type FrameExtractor interface {
	ExtractLastFrame(ctx context.Context, videoPath, outputPath string) (string, error)
	ExtractFirstFrame(ctx context.Context, videoPath, outputPath string) (string, error)
}

// FFmpegExtractor shells out to ffmpeg/ffprobe.
type FFmpegExtractor struct {
	ffmpeg  string
	ffprobe string
	timeout time.Duration
	logger  *slog.Logger
}

// NewFFmpegExtractor resolves the transcoder binaries on PATH.
func NewFFmpegExtractor(timeout time.Duration, logger *slog.Logger) (*FFmpegExtractor, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found on PATH: %w", err)
	}
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found on PATH: %w", err)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	logger.Info("frame extractor initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)
	return &FFmpegExtractor{ffmpeg: ffmpeg, ffprobe: ffprobe, timeout: timeout, logger: logger}, nil
}

// ExtractLastFrame grabs the terminal frame of a clip for use as the
// next segment's start image. outputPath may be empty; a sibling
// <video>_lastframe.png is derived.
func (e *FFmpegExtractor) ExtractLastFrame(ctx context.Context, videoPath, outputPath string) (string, error) {
	duration, err := e.probeDuration(ctx, videoPath)
	if err != nil {
		return "", err
	}

	return e.extractAt(ctx, videoPath, outputPath, seekPoint(duration), "_lastframe")
}

// ExtractFirstFrame grabs the opening frame of a clip.
func (e *FFmpegExtractor) ExtractFirstFrame(ctx context.Context, videoPath, outputPath string) (string, error) {
	return e.extractAt(ctx, videoPath, outputPath, 0, "_firstframe")
}

// seekPoint returns where to seek for the terminal frame.
func seekPoint(duration float64) float64 {
	p := duration - endSeekEpsilon
	if p < 0 {
		return 0
	}
	return p
}

func (e *FFmpegExtractor) probeDuration(ctx context.Context, videoPath string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = newLimitedWriter(maxStderrBytes)

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", filepath.Base(videoPath), err)
	}

	return parseProbeDuration(stdout.String())
}

func parseProbeDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse probed duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("probed duration %v is not positive", d)
	}
	return d, nil
}

func (e *FFmpegExtractor) extractAt(ctx context.Context, videoPath, outputPath string, seek float64, suffix string) (string, error) {
	if outputPath == "" {
		base := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
		outputPath = base + suffix + ".png"
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", fmt.Errorf("cannot create frame output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	stderr := newLimitedWriter(maxStderrBytes)

	cmd := exec.CommandContext(ctx, e.ffmpeg,
		"-ss", fmt.Sprintf("%.3f", seek),
		"-i", videoPath,
		"-vframes", "1",
		"-q:v", "2",
		"-y",
		outputPath,
	)
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		e.logger.Warn("frame extraction failed",
			"video", filepath.Base(videoPath),
			"seek", seek,
			"stderr_tail", truncateTail(stderr.String(), 512),
		)
		return "", fmt.Errorf("ffmpeg frame extraction failed: %w", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return "", fmt.Errorf("extracted frame missing: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(outputPath)
		return "", fmt.Errorf("extracted frame is empty")
	}

	e.logger.Info("frame extracted",
		"video", filepath.Base(videoPath),
		"frame", filepath.Base(outputPath),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outputPath, nil
}

func truncateTail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last `limit` bytes written.
type limitedWriter struct {
	buf   bytes.Buffer
	limit int
}

func newLimitedWriter(limit int) *limitedWriter {
	return &limitedWriter{limit: limit}
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.buf.Write(p)
	if lw.buf.Len() > lw.limit {
		b := lw.buf.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.buf.Reset()
		lw.buf.Write(tail)
	}
	return n, nil
}

func (lw *limitedWriter) String() string {
	return lw.buf.String()
}

package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotRelocated means outputs exist in the backend's output area but
// none could be moved into the project. The clip was generated; only
// the relocation failed.
var ErrNotRelocated = errors.New("outputs generated but not relocated")

// Clip extensions the backend is known to emit.
var clipExtensions = []string{".mp4", ".webm", ".mov", ".gif"}

// backendDefaultPrefix is ComfyUI's filename prefix when a workflow
// does not set its own.
const backendDefaultPrefix = "ComfyUI"

// FileConfig tunes the relocation retry policy. The backend reports
// job completion before the encoded file is guaranteed on disk, so the
// handler waits, globs, and retries instead of assuming a fixed name.
type FileConfig struct {
	OutputDir  string // backend shared output root
	ProjectDir string // project storage root

	InitialWait   time.Duration // before the first check; encoding is slow
	RetryDelay    time.Duration
	MaxRetries    int
	LastFrameWait time.Duration // stills land much faster than clips

	Logger *slog.Logger
}

// FileHandler locates generated artifacts in the backend's shared
// output area and moves them into project storage.
type FileHandler struct {
	cfg FileConfig
}

func NewFileHandler(cfg FileConfig) *FileHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FileHandler{cfg: cfg}
}

// VideoDir returns the project's clip destination directory.
func (h *FileHandler) VideoDir() string {
	return filepath.Join(h.cfg.ProjectDir, "video")
}

// LastFramesDir returns the project's extracted-frame directory.
func (h *FileHandler) LastFramesDir() string {
	return filepath.Join(h.cfg.ProjectDir, "lastframes")
}

// IncomingDir is the staging area for downloads from remote backends.
func (h *FileHandler) IncomingDir() string {
	return filepath.Join(h.cfg.ProjectDir, ".incoming")
}

// Validate checks the preconditions for local relocation. Failures
// here abort a run before any segment is attempted.
func (h *FileHandler) Validate() error {
	if h.cfg.OutputDir == "" {
		return fmt.Errorf("backend output directory not configured")
	}
	if _, err := os.Stat(h.cfg.OutputDir); err != nil {
		return fmt.Errorf("backend output directory missing: %w", err)
	}
	if err := os.MkdirAll(h.cfg.ProjectDir, 0755); err != nil {
		return fmt.Errorf("cannot create project directory: %w", err)
	}
	return nil
}

// RelocateFiles moves already-local files (e.g. downloads from a
// remote backend) into the project video directory under sanitized,
// collision-free names.
func (h *FileHandler) RelocateFiles(paths []string, clipName string) ([]string, error) {
	destDir := h.VideoDir()
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create project video dir: %w", err)
	}
	return h.moveAll(paths, destDir, clipName)
}

// CopyVideoOutputs moves the clips generated for a segment into the
// project video directory and returns their new paths. An empty result
// after the full retry budget means no output was ever found; the
// caller treats that as a hard error.
func (h *FileHandler) CopyVideoOutputs(ctx context.Context, clipName string) ([]string, error) {
	if h.cfg.OutputDir == "" {
		return nil, fmt.Errorf("backend output directory not configured")
	}
	if _, err := os.Stat(h.cfg.OutputDir); err != nil {
		return nil, fmt.Errorf("backend output directory missing: %w", err)
	}

	if err := sleepCtx(ctx, h.cfg.InitialWait); err != nil {
		return nil, err
	}

	destDir := h.VideoDir()
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create project video dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		sources := h.findClips(clipName)
		if len(sources) > 0 {
			return h.moveAll(sources, destDir, clipName)
		}

		if attempt >= h.cfg.MaxRetries {
			h.cfg.Logger.Warn("no output located after full retry budget",
				"clip", clipName, "attempts", attempt+1)
			return nil, nil
		}

		h.cfg.Logger.Debug("output not on disk yet, retrying",
			"clip", clipName, "attempt", attempt+1)
		if err := sleepCtx(ctx, h.cfg.RetryDelay); err != nil {
			return nil, err
		}
	}
}

// CopyLastFrameOutput relocates a backend-written still image for the
// segment, if the workflow produced one. Returns "" when nothing is
// found; callers fall back to local extraction.
func (h *FileHandler) CopyLastFrameOutput(ctx context.Context, clipName string, segmentIndex int) (string, error) {
	if h.cfg.OutputDir == "" {
		return "", fmt.Errorf("backend output directory not configured")
	}

	if err := sleepCtx(ctx, h.cfg.LastFrameWait); err != nil {
		return "", err
	}

	var sources []string
	for _, dir := range h.searchDirs() {
		matches, _ := filepath.Glob(filepath.Join(dir, clipName+"*.png"))
		sources = append(sources, matches...)
	}
	sources = h.dedupe(sources)
	if len(sources) == 0 {
		return "", nil
	}

	destDir := h.LastFramesDir()
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("cannot create lastframes dir: %w", err)
	}

	base := fmt.Sprintf("%s_seg%d_lastframe", SanitizeClipName(clipName, 80), segmentIndex)
	dest := UniquePath(destDir, base, ".png")
	if err := moveFile(sources[0], dest); err != nil {
		return "", fmt.Errorf("cannot move last frame: %w", err)
	}

	h.cfg.Logger.Info("last frame relocated", "dest", filepath.Base(dest))
	return dest, nil
}

// findClips searches the output root and its video/ subdirectory for
// files matching the clip name, falling back to the backend's default
// naming convention.
func (h *FileHandler) findClips(clipName string) []string {
	var sources []string
	for _, dir := range h.searchDirs() {
		for _, ext := range clipExtensions {
			matches, _ := filepath.Glob(filepath.Join(dir, clipName+"*"+ext))
			sources = append(sources, matches...)
			if clipName != backendDefaultPrefix {
				fallback, _ := filepath.Glob(filepath.Join(dir, backendDefaultPrefix+"*"+ext))
				sources = append(sources, fallback...)
			}
		}
	}
	return h.dedupe(sources)
}

func (h *FileHandler) searchDirs() []string {
	return []string{h.cfg.OutputDir, filepath.Join(h.cfg.OutputDir, "video")}
}

// dedupe removes duplicate paths and anything already inside the
// project tree, so a file from a previous relocation is never picked
// up again.
func (h *FileHandler) dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	projectPrefix := h.cfg.ProjectDir + string(filepath.Separator)

	var out []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		if strings.HasPrefix(abs, projectPrefix) {
			continue
		}
		out = append(out, abs)
	}
	return out
}

func (h *FileHandler) moveAll(sources []string, destDir, clipName string) ([]string, error) {
	base := SanitizeClipName(clipName, 80)

	var moved []string
	for _, src := range sources {
		ext := filepath.Ext(src)
		dest := UniquePath(destDir, base, ext)
		if err := moveFile(src, dest); err != nil {
			h.cfg.Logger.Warn("failed to move output", "src", src, "error", err)
			continue
		}
		h.cfg.Logger.Info("output relocated", "dest", filepath.Base(dest))
		moved = append(moved, dest)
	}

	if len(moved) == 0 && len(sources) > 0 {
		return nil, fmt.Errorf("located %d outputs but moved none: %w", len(sources), ErrNotRelocated)
	}
	return moved, nil
}

// moveFile renames across the same filesystem and falls back to
// copy-and-remove when the destination is on a different device.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return err
	}
	return os.Remove(src)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

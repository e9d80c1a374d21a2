package video

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const archiveDirName = "_archive"

// CleanupService archives leftover files from previous runs so a stale
// artifact is never mistaken for a current result. Files are moved,
// never deleted, preserving recoverability.
type CleanupService struct {
	dirs   []string
	logger *slog.Logger
	now    func() time.Time
}

// NewCleanupService watches the given directories. Missing directories
// are skipped rather than treated as errors; the backend output area
// may not exist until the first job runs.
func NewCleanupService(logger *slog.Logger, dirs ...string) *CleanupService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupService{dirs: dirs, logger: logger, now: time.Now}
}

// ArchiveStale moves every loose file in the watched directories into a
// timestamped archive subdirectory. Returns the number of files moved.
// Re-running on an already-clean directory moves nothing and leaves
// existing archives untouched.
func (c *CleanupService) ArchiveStale(ctx context.Context) (int, error) {
	total := 0
	stamp := c.now().Format("20060102_150405")

	for _, dir := range c.dirs {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		n, err := c.archiveDir(dir, stamp)
		if err != nil {
			return total, fmt.Errorf("archive %s: %w", dir, err)
		}
		total += n
	}

	if total > 0 {
		c.logger.Info("stale files archived", "count", total)
	}
	return total, nil
}

func (c *CleanupService) archiveDir(dir, stamp string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	archiveDir := filepath.Join(dir, archiveDirName, stamp)
	moved := 0

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		if moved == 0 {
			if err := os.MkdirAll(archiveDir, 0755); err != nil {
				return 0, fmt.Errorf("cannot create archive dir: %w", err)
			}
		}

		src := filepath.Join(dir, e.Name())
		dest := filepath.Join(archiveDir, e.Name())
		if err := moveFile(src, dest); err != nil {
			c.logger.Warn("failed to archive file", "path", src, "error", err)
			continue
		}
		moved++
	}

	if moved > 0 {
		c.logger.Info("directory archived", "dir", dir, "files", moved, "archive", stamp)
	}
	return moved, nil
}

// Package playback streams relocated clips out of project storage with
// HTTP range support, so a browser can scrub a generated segment
// without downloading the whole file.
package playback

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ClipServer serves video files that live under the project root.
// Requests for anything outside the root are refused as not found,
// since segment output paths come from the database and a stale or
// tampered row must not read arbitrary files.
type ClipServer struct {
	root   string
	logger *slog.Logger
}

func NewClipServer(projectDir string, logger *slog.Logger) *ClipServer {
	return &ClipServer{root: projectDir, logger: logger}
}

func (s *ClipServer) ServeClip(w http.ResponseWriter, r *http.Request, filePath string) error {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to resolve clip path: %w", err)
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return fmt.Errorf("failed to resolve project root: %w", err)
	}
	if !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
		s.logger.Warn("refusing clip outside project storage", "path", filePath)
		http.Error(w, "clip not found", http.StatusNotFound)
		return nil
	}

	file, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "clip not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open clip: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat clip: %w", err)
	}

	size := stat.Size()
	contentType := mime.TypeByExtension(filepath.Ext(abs))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	parsedRange, err := ParseRange(r.Header.Get("Range"), size)

	if err == ErrUnsatisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	// Malformed range headers fall through to a full response.
	if err != nil && err != ErrInvalidRange {
		return err
	}

	if parsedRange == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
		w.WriteHeader(http.StatusOK)
		io.Copy(w, file)
		return nil
	}

	w.Header().Set("Content-Length", fmt.Sprintf("%d", parsedRange.ContentLength()))
	w.Header().Set("Content-Range", parsedRange.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := file.Seek(parsedRange.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	io.CopyN(w, file, parsedRange.ContentLength())
	return nil
}

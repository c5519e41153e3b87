package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/halworsen/footgas/internal/export"
)

// ClipServer writes clip files to HTTP responses.
type ClipServer interface {
	ServeClip(w http.ResponseWriter, r *http.Request, path string) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeClip streams the file at path as an attachment, answering Range
// requests with 206 and HEAD requests with headers only.
func (s *Server) ServeClip(w http.ResponseWriter, r *http.Request, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
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
	if stat.IsDir() {
		http.Error(w, "clip not found", http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "video/mp4"
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)
	h.Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))
	if name := export.SanitizeName(filepath.Base(path), 200); name != "" {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}

	parsed, err := ParseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	// Malformed ranges are ignored and the whole clip is served.
	if err != nil {
		parsed = nil
	}

	start, length, status := int64(0), size, http.StatusOK
	if parsed != nil {
		start, length, status = parsed.Start, parsed.ContentLength(), http.StatusPartialContent
		h.Set("Content-Range", parsed.ContentRange(size))
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	began := time.Now()
	n, err := io.CopyN(w, file, length)
	if err != nil && s.logger != nil {
		// Clients abort downloads routinely.
		s.logger.Debug("clip transfer ended early", "sent", n, "want", length, "error", err)
	}
	if s.logger != nil && err == nil {
		s.logger.Debug("clip served", "bytes", n, "status", status, "duration_ms", time.Since(began).Milliseconds())
	}
	return nil
}

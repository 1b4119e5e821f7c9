// Package sse writes Server-Sent Events frames over net/http.
package sse

import (
	"fmt"
	"net/http"
)

// Writer wraps a ResponseWriter for SSE output. All writes flush
// immediately; a flush or write error means the client disconnected.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares an SSE writer. Returns an error if the underlying
// ResponseWriter cannot stream.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// Establish sends the SSE response headers and flushes so the client sees
// the stream open before the first event.
func (s *Writer) Establish() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // Disable nginx buffering

	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// WriteEvent writes one SSE frame. id becomes the Last-Event-ID the client
// replays on reconnect; pass id <= 0 to omit it.
func (s *Writer) WriteEvent(id int64, event string, data []byte) error {
	if id > 0 {
		if _, err := fmt.Fprintf(s.w, "id: %d\n", id); err != nil {
			return fmt.Errorf("write event failed: %w", err)
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write event failed: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// WriteKeepAlive writes an SSE comment (": keepalive") and flushes.
// Returns error if connection is closed or write fails.
func (s *Writer) WriteKeepAlive() error {
	// SSE spec: Lines starting with : are comments (ignored by client)
	if _, err := fmt.Fprintf(s.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive failed: %w", err)
	}

	s.flusher.Flush()

	// Health check: a zero-byte write surfaces closed connections that the
	// flush above did not report.
	if _, err := s.w.Write([]byte{}); err != nil {
		return fmt.Errorf("connection closed: %w", err)
	}

	return nil
}

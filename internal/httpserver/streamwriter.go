package httpserver

import (
	"fmt"
	"net/http"

	"github.com/llmrelay/llmrelay/internal/sseframe"
)

// sseWriter implements orchestrator.StreamWriter over an http.ResponseWriter,
// flushing after every frame so the client sees bytes as soon as the
// orchestrator produces them (spec §4.6's first-byte invariant). Headers
// match examples/http-server/main.go's handleStream exactly.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter writes SSE headers and returns a writer, or an error if the
// ResponseWriter doesn't support flushing.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// WriteFrame writes one SSE frame and flushes immediately.
func (s *sseWriter) WriteFrame(frame sseframe.Frame) error {
	if _, err := s.w.Write([]byte(frame.ToSSEString())); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

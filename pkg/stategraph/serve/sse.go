package serve

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter writes Server-Sent Events frames.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for SSE and returns a frame writer.
// Returns an error if the underlying writer does not support flushing.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by connection")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &sseWriter{w: w, flusher: flusher}, nil
}

// send writes one SSE frame with the given event name and JSON-encoded data.
func (s *sseWriter) send(eventName string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventName, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// sendError writes an error frame. Write failures are ignored; the client
// is usually gone when they occur.
func (s *sseWriter) sendError(msg string) {
	_ = s.send("error", map[string]string{"error": msg})
}

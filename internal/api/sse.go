package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter frames content chunks as server-sent events and flushes
// after every event so slow model output reaches the client promptly.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

// raw emits a payload verbatim, without the delta-chunk envelope. Used
// for the session id announcement.
func (s *sseWriter) raw(payload string) {
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flush()
}

// chunk wraps content in the OpenAI delta shape. HTML escaping is off so
// reasoning spans cross the wire as literal <think> tags.
func (s *sseWriter) chunk(content string) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(map[string]any{
		"choices": []map[string]any{{"delta": map[string]string{"content": content}}},
	})
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", bytes.TrimRight(buf.Bytes(), "\n"))
	s.flush()
}

// done terminates the stream. It is sent even on error paths.
func (s *sseWriter) done() {
	s.raw("[DONE]")
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

package chat

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

// Stream event types.
const (
	EventChunk = "chunk"
	EventEnd   = "end"
	EventError = "error"
)

// Event is one line of the chat stream.
type Event struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// EventWriter receives stream events in order.
type EventWriter interface {
	WriteEvent(Event) error
}

// NDJSONWriter writes one JSON object per line, flushing after each when the
// underlying writer supports it.
type NDJSONWriter struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
}

// NewNDJSONWriter wraps w.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	nw := &NDJSONWriter{enc: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		nw.flusher = f
	}
	return nw
}

// WriteEvent encodes e followed by a newline.
func (w *NDJSONWriter) WriteEvent(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(e); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrStreamingUnsupported means the response writer cannot flush
// incrementally and no event stream can be established.
var ErrStreamingUnsupported = errors.New("sse: streaming unsupported")

// Writer emits frames to an HTTP response as server-sent events.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares the response for an event stream and returns a frame
// writer bound to it.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one frame and flushes it to the client immediately.
func (w *Writer) Send(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

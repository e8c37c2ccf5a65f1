package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/printdesk/api/internal/platform/httpx"
)

const defaultStreamHeartbeat = 20 * time.Second

type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// openEventStream switches the response to text/event-stream. It writes an error and returns
// false when the writer cannot flush.
func openEventStream(w http.ResponseWriter, r *http.Request) (*eventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("streaming_unsupported", "streaming is not supported", http.StatusInternalServerError))
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &eventStream{w: w, flusher: flusher}, true
}

func (s *eventStream) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *eventStream) heartbeat() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

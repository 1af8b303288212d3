package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ChuLiYu/genqueue/internal/events"
	"github.com/ChuLiYu/genqueue/pkg/types"
)

// SSE 參數
const (
	eventBuffer       = 64
	heartbeatInterval = 15 * time.Second
)

// Events handles GET /api/events as a Server-Sent Events stream.
//
// ?job=<id> limits the stream to one job. The stream ends when the client
// goes away or the queue shuts down.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	filter := types.JobID(r.URL.Query().Get("job"))

	sub := h.queue.Subscribe(eventBuffer)
	defer h.queue.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			if filter != "" && evt.Job.ID != filter {
				continue
			}
			if err := writeEvent(w, evt); err != nil {
				h.log.Debug("event stream closed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err
}

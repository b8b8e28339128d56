package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// sseHeartbeat keeps idle progress streams open through proxies.
var sseHeartbeat = 15 * time.Second

// StreamSSE handles GET /api/v1/jobs/{id}/sse. The first frame is the current
// snapshot; "status" frames follow on every progress update and a single
// "result" frame ends the stream.
func (h *Handler) StreamSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := r.PathValue("id")
	// Subscribing first means a job that finishes before Get still closes ch.
	events := h.Registry.Subscribe(id)
	defer h.Registry.Unsubscribe(id, events)

	snap, err := h.Registry.Get(id)
	if err != nil {
		writeErr(w, err)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	first := "status"
	if snap.Status.IsTerminal() {
		first = "result"
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		h.Logger.Error("encode job snapshot", "job_id", id, "error", err)
		return
	}
	fmt.Fprintf(w, "retry: %d\n", sseHeartbeat.Milliseconds())
	sseFrame(w, first, payload)
	flusher.Flush()
	if first == "result" {
		return
	}

	ping := time.NewTicker(sseHeartbeat)
	defer ping.Stop()
	for {
		select {
		case ev, open := <-events:
			if !open {
				// Closed without a result frame: finish from the snapshot.
				if snap, err := h.Registry.Get(id); err == nil && snap.Status.IsTerminal() {
					if payload, err := json.Marshal(snap); err == nil {
						sseFrame(w, "result", payload)
						flusher.Flush()
					}
				}
				return
			}
			sseFrame(w, ev.Event, []byte(ev.Data))
			flusher.Flush()
			if ev.Event == "result" {
				return
			}
		case <-ping.C:
			io.WriteString(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func sseFrame(w io.Writer, event string, data []byte) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

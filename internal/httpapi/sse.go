package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleStream serves the change-notification event stream. It opens with a
// ": connected" comment, then writes each Summary as an "event: connections"
// frame with an incrementing id; each heartbeat tick is written as a bare SSE
// comment line so it does not surface as a message to EventSource clients.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIErr(w, fmt.Errorf("streaming not supported"))
		return
	}
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	sub := s.Facade.Engine.Subscribe()
	defer sub.Close()

	ctx := r.Context()
	var eventID uint64
	for {
		select {
		case summary, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(summary)
			if err != nil {
				continue
			}
			eventID++
			fmt.Fprintf(w, "event: connections\nid: %d\ndata: %s\n\n", eventID, data)
			flusher.Flush()
		case <-sub.Heartbeat():
			fmt.Fprint(w, ": hb\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// handleEvents relays the job's stage channel as a server-sent event
// stream. There is no replay: clients fetch point-in-time status first and
// rely on the stream for deltas only. The terminal update closes the stream
// from this side.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, cancel := s.genUC.Subscribe(jobID)
	defer cancel()

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
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case upd, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(upd)
			if err != nil {
				s.log.Error().Err(err).Str("job_id", jobID).Msg("marshal stage update")
				continue
			}
			fmt.Fprintf(w, "event: stage\ndata: %s\n\n", data)
			flusher.Flush()
			if upd.Stage.Terminal() {
				return
			}
		}
	}
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nutribin/feedrelay/internal/hub"
	"github.com/nutribin/feedrelay/internal/logx"
	"github.com/nutribin/feedrelay/internal/relay"
	"github.com/nutribin/feedrelay/internal/serverstate"
)

// StateResponse is the body of GET /api/state.
type StateResponse struct {
	Status       string   `json:"status"`
	Draining     bool     `json:"draining"`
	StreamActive bool     `json:"stream_active"`
	Producers    int      `json:"producers"`
	Connections  int      `json:"connections"`
	ProducerIDs  []string `json:"producer_ids"`
}

// StateHandler serves state snapshots and streams.
type StateHandler struct {
	Relay    *relay.Relay
	Hub      *hub.Hub
	Interval time.Duration
}

// Snapshot combines server state with live relay counts.
func (h *StateHandler) Snapshot() StateResponse {
	st := serverstate.Snapshot()
	ids := h.Relay.Producers()
	return StateResponse{
		Status:       st.Status,
		Draining:     st.Draining,
		StreamActive: len(ids) > 0,
		Producers:    len(ids),
		Connections:  h.Hub.Count(),
		ProducerIDs:  ids,
	}
}

// GetState returns a JSON snapshot.
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Snapshot()); err != nil {
		logx.Log.Error().Err(err).Msg("encode state")
	}
}

// GetStateStream streams state snapshots as Server-Sent Events, one
// immediately and then one per interval.
func (h *StateHandler) GetStateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	interval := h.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		b, _ := json.Marshal(h.Snapshot())
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if _, err := w.Write(b); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/events"
)

// HandleRoomEvents streams a room's lifecycle events over SSE. Every
// subscriber sees every event in the room, not only their own.
func (h *Handlers) HandleRoomEvents(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}

	ch, cancel := h.bus.Subscribe(roomID)
	defer cancel()
	if h.metrics != nil {
		h.metrics.EventSubscribers.Inc()
		defer h.metrics.EventSubscribers.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Keepalive comments stop intermediaries from closing idle streams.
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := writeSSEEvent(w, flusher, ev); err != nil {
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal room event")
		return nil
	}
	// The payload is a single JSON line; user output inside it is
	// escaped by the JSON encoder, so no data: line splitting needed.
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

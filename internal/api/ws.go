package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Room membership is enforced by the API key layer; the
		// browser origin carries no extra trust here.
		return true
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// HandleRoomWS streams a room's lifecycle events over a WebSocket.
// Outbound only; client messages are read and discarded to service
// control frames.
func (h *Handlers) HandleRoomWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")

	// Subscribed before the handshake completes, so a client that
	// submits right after dialing cannot miss its own queued event.
	ch, cancel := h.bus.Subscribe(roomID)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.EventSubscribers.Inc()
		defer h.metrics.EventSubscribers.Dec()
	}

	// Reader pump: handles close frames and pongs, discards the rest.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedWriteTimeout = 5 * time.Second
	feedPongWait     = 60 * time.Second
	feedPingPeriod   = feedPongWait * 9 / 10
)

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API binds to localhost by default; any local page may subscribe.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleTranscriptFeed implements the /transcript/ws endpoint. Each
// transcript change is pushed as a JSON Display; a slow client skips
// intermediate snapshots and always receives the latest one.
func (h *HTTPServer) handleTranscriptFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Transcript feed upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.transcript.Subscribe()
	defer unsubscribe()

	logger := h.logger.With(slog.String("remote", r.RemoteAddr))
	logger.Info("Transcript feed connected")

	// The read side only handles control frames and notices the close.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(feedPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.Info("Transcript feed disconnected")
			return
		case <-r.Context().Done():
			return
		case display, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteJSON(display); err != nil {
				logger.Debug("Transcript feed write failed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

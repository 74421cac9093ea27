package handlers

import (
	"net/http"
	"time"

	"garia/internal/logger"
	"garia/internal/services"

	"github.com/gorilla/websocket"
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const viewerReadTimeout = 60 * time.Second

// StreamWebsocketHandler registers a viewer that receives a StreamEvent for
// every recorded detection result. Viewers only ever receive; anything they
// send is discarded.
func StreamWebsocketHandler(manager *services.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hub := manager.GetWebsocketService()
		if hub == nil {
			writeError(w, http.StatusNotFound, CodeNotFound, "Live stream disabled", nil, false, logger)
			return
		}

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(viewerReadTimeout))
		connection.SetPongHandler(func(appData string) error {
			connection.SetReadDeadline(time.Now().Add(viewerReadTimeout))
			return nil
		})
		defer connection.Close()

		if !hub.Register(connection) {
			return
		}
		defer hub.Unregister(connection)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				logger.Debug("Viewer disconnected: %v", err)
				break
			}
		}
	}
}

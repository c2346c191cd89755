package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/carecall/internal/model"
)

// HandleWebSocket upgrades the request and runs it as a hub client. When
// snapshot is non-nil the client first receives the current call state.
func HandleWebSocket(hub *Hub, snapshot func() model.CallSession, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		client := NewClient(hub, conn)
		if snapshot != nil {
			if data, err := json.Marshal(CallState(snapshot())); err == nil {
				client.queue(data)
			}
		}
		logger.Debug("dashboard connected", "clients", hub.ClientCount()+1)
		client.Run(r.Context())
	}
}

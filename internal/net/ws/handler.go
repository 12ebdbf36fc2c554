package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dreamtable/server/internal/hub"
)

type HandlerConfig struct {
	Logger *zap.Logger
}

// Handler upgrades HTTP requests and services websocket sessions.
type Handler struct {
	hub      *hub.Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(h *hub.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle runs one connection's read loop. Malformed traffic never ends
// the loop; only a transport-level read failure does, after which the
// hub cleans up the connection.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID := h.hub.Join(conn)
	defer h.hub.Disconnect(clientID)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.hub.Dispatch(clientID, payload)
	}
}

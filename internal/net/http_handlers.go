package net

import (
	"encoding/json"
	nethttp "net/http"
	"time"

	"go.uber.org/zap"

	"dreamtable/server/internal/hub"
	"dreamtable/server/internal/net/ws"
)

type HTTPHandlerConfig struct {
	ClientDir string
	Logger    *zap.Logger
}

// NewHTTPHandler mounts the server's full HTTP surface: health and
// diagnostics endpoints, the websocket upgrade, and the static client.
func NewHTTPHandler(h *hub.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string          `json:"status"`
			ServerTime int64           `json:"serverTime"`
			Table      hub.Diagnostics `json:"table"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Table:      h.DiagnosticsSnapshot(),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			nethttp.Error(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	wsHandler := ws.NewHandler(h, ws.HandlerConfig{Logger: logger})
	mux.HandleFunc("/ws", wsHandler.Handle)

	if cfg.ClientDir != "" {
		mux.Handle("/", nethttp.FileServer(nethttp.Dir(cfg.ClientDir)))
	}

	return mux
}

package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/auth"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/httputil"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/registry"
)

const (
	defaultWriteWait = 10 * time.Second
	defaultPongWait  = 60 * time.Second
)

type HandlerConfig struct {
	Origins   []string
	WriteWait time.Duration
	PongWait  time.Duration
}

// Handler upgrades authenticated requests and registers the connection for
// pushes until the client goes away.
type Handler struct {
	resolver  auth.Resolver
	registry  *registry.Registry
	upgrader  websocket.Upgrader
	writeWait time.Duration
	pongWait  time.Duration
}

func NewHandler(resolver auth.Resolver, reg *registry.Registry, cfg HandlerConfig) *Handler {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	return &Handler{
		resolver: resolver,
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     OriginChecker(cfg.Origins),
		},
		writeWait: cfg.WriteWait,
		pongWait:  cfg.PongWait,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolver.Resolve(r)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the error response.
		return
	}

	c := newConn(ws, userID, h.writeWait, h.pongWait)
	for _, old := range h.registry.Register(userID, c) {
		old.Close() //nolint:errcheck
	}
	logging.Info().Str("conn_id", c.ID).Str("user_id", userID).Msg("ws: connected")

	go c.WritePump()
	c.ReadPump(func() { h.registry.Touch(userID) })

	h.registry.Release(userID, c)
	c.Close() //nolint:errcheck
	logging.Info().Str("conn_id", c.ID).Str("user_id", userID).Msg("ws: disconnected")
}

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/auth"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/httputil"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/metrics"
	mw "github.com/Cube0fDestiny/angular-projekt-sub000/internal/middleware"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/notifications"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/registry"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/ws"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type connectedChecker interface {
	Connected() bool
}

type routerDeps struct {
	ctx           context.Context
	resolver      auth.Resolver
	wsResolver    auth.Resolver
	registry      *registry.Registry
	presence      *registry.RedisPresence
	notifications *notifications.Handlers
	db            pinger
	broker        connectedChecker
	wsConfig      ws.HandlerConfig
	rateRPS       float64
	rateBurst     int
}

func newRouter(d routerDeps) *mux.Router {
	r := mux.NewRouter()
	r.Use(mw.RequestLogger)
	if d.rateRPS > 0 {
		r.Use(mw.RateLimitMiddleware(d.ctx, d.rateRPS, d.rateBurst))
	}

	// No auth
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyzHandler(d.db, d.broker)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// The handshake authenticates itself so browsers can pass ?token=.
	r.Handle("/ws/notifications", ws.NewHandler(d.wsResolver, d.registry, d.wsConfig)).Methods(http.MethodGet)

	protected := r.PathPrefix("").Subrouter()
	protected.Use(mw.AuthMiddleware(d.resolver))
	d.notifications.RegisterRoutes(protected)
	protected.Handle("/presence", registry.NewPresenceHandler(d.registry, d.presence)).Methods(http.MethodGet)

	return r
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readyzHandler(db pinger, b connectedChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbOK := db != nil && db.Ping(ctx) == nil
		brokerOK := b != nil && b.Connected()
		status := http.StatusOK
		state := "ready"
		if !dbOK || !brokerOK {
			status = http.StatusServiceUnavailable
			state = "not ready"
		}
		httputil.WriteJSON(w, status, map[string]interface{}{
			"status":   state,
			"database": dbOK,
			"broker":   brokerOK,
		})
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/auth"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/broker"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/config"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/db"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/events"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/logging"
	mw "github.com/Cube0fDestiny/angular-projekt-sub000/internal/middleware"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/notifications"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/registry"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/supervisor"
	"github.com/Cube0fDestiny/angular-projekt-sub000/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stdout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		logging.Fatal().Err(err).Msg("database connection failed")
	}
	defer database.Close()
	if cfg.Database.Migrate {
		if err := db.RunMigrations(cfg.Database.URL); err != nil {
			logging.Fatal().Err(err).Msg("migrations failed")
		}
	}

	// Broker
	b, err := broker.New(cfg.Broker, events.Bindings)
	if err != nil {
		logging.Fatal().Err(err).Msg("broker setup failed")
	}
	defer b.Close() //nolint:errcheck // best-effort cleanup on shutdown
	if err := broker.ConnectWithRetry(ctx, b, cfg.Broker.ConnectAttempts, cfg.Broker.ConnectDelay); err != nil {
		logging.Fatal().Err(err).Str("kind", cfg.Broker.Kind).Msg("broker unreachable")
	}

	// Presence (optional)
	var presence registry.Presence
	var redisPresence *registry.RedisPresence
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close() //nolint:errcheck // best-effort cleanup on shutdown
		redisPresence = registry.NewRedisPresence(client, cfg.Redis.PresenceTTL)
		presence = redisPresence
		logging.Info().Str("addr", cfg.Redis.Addr).Msg("presence mirrored to redis")
	}

	reg := registry.New(cfg.Push.Policy, presence)

	// Notifications
	store := notifications.NewPGStore(database.Pool)
	dispatcher := notifications.NewDispatcher(cfg.Broker.Queue, store, notifications.NewPGParticipantDirectory(database.Pool), reg)
	consumer := notifications.NewConsumer(b, dispatcher, notifications.NewPGDeadLetterStore(database.Pool), notifications.ConsumerConfig{
		ConnectAttempts: cfg.Broker.ConnectAttempts,
		ConnectDelay:    cfg.Broker.ConnectDelay,
		MaxDeliveries:   cfg.Broker.MaxDeliveries,
	})
	handlers := notifications.NewHandlers(store, reg, cfg.API.DefaultPageSize, cfg.API.MaxPageSize)

	apiResolver, wsResolver := resolvers(cfg.Security)

	r := newRouter(routerDeps{
		ctx:           ctx,
		resolver:      apiResolver,
		wsResolver:    wsResolver,
		registry:      reg,
		presence:      redisPresence,
		notifications: handlers,
		db:            database,
		broker:        b,
		wsConfig: ws.HandlerConfig{
			Origins:   cfg.Security.CORSOrigins,
			WriteWait: cfg.Push.WriteTimeout,
		},
		rateRPS:   cfg.Security.RateLimitRPS,
		rateBurst: cfg.Security.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           mw.CORS(cfg.Security.CORSOrigins)(r),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMessagingService(consumer)
	tree.AddAPIService(supervisor.NewHTTPService(srv, cfg.Server.ShutdownTimeout))

	logging.Info().
		Str("port", cfg.Server.Port).
		Str("broker", cfg.Broker.Kind).
		Str("queue", cfg.Broker.Queue).
		Str("push_policy", reg.Policy()).
		Str("auth_mode", cfg.Security.AuthMode).
		Msg("notification service starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("services did not stop within the shutdown timeout")
	}
	logging.Info().Msg("notification service stopped")
}

// resolvers returns the identity resolver for the REST API and the one for
// the WebSocket handshake, which also accepts ?token= in jwt mode.
func resolvers(sec config.SecurityConfig) (auth.Resolver, auth.Resolver) {
	if sec.AuthMode == config.AuthModeHeader {
		h := auth.HeaderResolver{Header: auth.DefaultUserHeader}
		return h, h
	}
	jwtService := auth.NewJWTService(sec.JWTSecret, auth.WithIssuer(sec.JWTIssuer))
	return auth.JWTResolver{JWT: jwtService}, auth.JWTResolver{JWT: jwtService, AllowQueryToken: true}
}

package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helenkilolo/afrovibe/internal/metrics"
	"github.com/helenkilolo/afrovibe/internal/notify"
	"github.com/helenkilolo/afrovibe/internal/realtime"
	"github.com/helenkilolo/afrovibe/internal/server/middleware"
	"github.com/helenkilolo/afrovibe/internal/store"
	"github.com/helenkilolo/afrovibe/pkg/config"
	"github.com/helenkilolo/afrovibe/pkg/presence"
	"github.com/helenkilolo/afrovibe/pkg/ratelimit"
	"github.com/helenkilolo/afrovibe/pkg/transport"
)

type App struct {
	logger   *slog.Logger
	registry presence.Registry
	rtRouter *realtime.Router
	notifier *notify.Service
	st       store.Store
	wg       sync.WaitGroup
	http     *http.Server
	config   *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, st store.Store) *App {
	registry := presence.NewInMemoryRegistry(logger)
	notifier := notify.NewService(logger, registry, st, st)
	cooldown := ratelimit.NewPairCooldown(cfg.Calls.Cooldown)
	rtRouter := realtime.NewRouter(logger, registry, st, st, notifier, cooldown, cfg.Realtime)

	app := &App{
		logger:   logger,
		registry: registry,
		rtRouter: rtRouter,
		notifier: notifier,
		st:       st,
		config:   cfg,
		ctx:      rootCtx,
	}

	connCounter := middleware.UserConnectionCounter(registry.ConnectionCount)
	// Cycler closes over the registry: evict the oldest connection so the
	// newest device wins.
	connCycler := func(userID string) {
		oldest, found := registry.OldestConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest", "userID", userID, "connID", oldest.ID)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	authMW := middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret, cfg.Server.Auth.CookieName, st.Entitlement)

	api := NewHandler(logger, st, rtRouter, notifier, registry, cooldown, cfg)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// The auth middleware must run before the connection limiter so the
	// limiter can key on the authenticated user.
	r.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			authMW,
			middleware.NewConnectionLimiter(
				logger,
				connCounter,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)

	sendLimiter := httprate.Limit(
		cfg.Server.SendLimit.Requests,
		cfg.Server.SendLimit.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if meta, ok := middleware.ReqMetadataFrom(r.Context()); ok {
				return meta.UserID, nil
			}
			return r.RemoteAddr, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RateLimitHits.WithLabelValues("http_send").Inc()
			api.JSON(w, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "rate_limited"})
		}),
	)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequestMetadataMiddleware(), authMW)

		r.With(sendLimiter).Post("/messages", api.SendMessage)
		r.Post("/messages/bulk", api.BulkMessages)
		r.Get("/messages/{peerID}", api.GetThread)
		r.Post("/messages/{peerID}/read", api.MarkThreadRead)

		r.Get("/unread/messages", api.UnreadMessages)
		r.Get("/unread/notifications", api.UnreadNotifications)

		r.Get("/notifications", api.ListNotifications)
		r.Post("/notifications/read-all", api.MarkAllNotificationsRead)
		r.Post("/notifications/{id}/read", api.MarkNotificationRead)
		r.Delete("/notifications/{id}", api.DismissNotification)

		r.Post("/likes/{id}", api.Like)
		r.Post("/calls/request/{id}", api.RequestCall)
	})

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: r, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)

	if _, err := a.registry.Register(conn, conn.ID(), reqMeta.UserID, reqMeta.IP, reqMeta.Entitlement); err != nil {
		connLogger.Error("Failed to register connection", slog.Any("error", err))
		conn.Close(err)
		return
	}
	metrics.ConnectionsActive.Inc()

	conn.SetOnMessageHandler(a.rtRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		metrics.ConnectionsActive.Dec()
		a.rtRouter.ConnectionClosed(id)
	})

	connLogger.Info("User connection fully established", slog.Any("userID", reqMeta.UserID))
	conn.Run()
	<-conn.Done()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.registry.Connections() {
		conn.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}

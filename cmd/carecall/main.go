package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/carecall/internal/auth"
	"github.com/dukerupert/carecall/internal/call"
	"github.com/dukerupert/carecall/internal/config"
	"github.com/dukerupert/carecall/internal/database"
	"github.com/dukerupert/carecall/internal/events"
	"github.com/dukerupert/carecall/internal/logging"
	"github.com/dukerupert/carecall/internal/server"
	"github.com/dukerupert/carecall/internal/sessionfile"
	"github.com/dukerupert/carecall/internal/signaling"
	"github.com/dukerupert/carecall/internal/store"
	ws "github.com/dukerupert/carecall/internal/websocket"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "carecall: %v\n", err)
		os.Exit(2)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if !cfg.EnvFileLoaded {
		slog.Warn("no env file found, using environment only", "path", cfg.EnvFile)
	}
	if cfg.DefaultCredentials {
		slog.Warn("CARECALL_ADMIN_PASSWORD_HASH not set, using the default admin password")
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var persister auth.Persister
	switch cfg.SessionStore {
	case config.SessionStoreFile:
		fileStore := sessionfile.New(cfg.SessionFile, logger.With("component", "sessionfile"))
		slog.Info("session record kept in file", "path", fileStore.Path())
		persister = fileStore
	default:
		persister = store.NewSessionStore(db)
	}
	sessions := auth.NewManager(persister, logger.With("component", "auth"), auth.WithTimeout(cfg.SessionTimeout))

	backend := signaling.NewClient(cfg.BackendURL, logger.With("component", "signaling"),
		signaling.WithTimeout(cfg.BackendTimeout))

	hub := ws.NewHub(logger.With("component", "websocket"))
	notifier := events.Fanout{events.NewHubSink(hub)}
	if cfg.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			// Lifecycle events are optional; the console works without them.
			slog.Warn("amqp unavailable, call events will not be published", "error", err)
		} else {
			defer pub.Close()
			notifier = append(notifier, events.NewLifecycleSink(pub, cfg.AMQPExchange, logger.With("component", "events")))
		}
	}

	policy := call.DefaultPolicy()
	policy.PollWindow = cfg.PollWindow
	policy.PollGrace = cfg.PollGrace
	policy.PollInterval = cfg.PollInterval

	ctrl, err := call.NewController(store.NewCallSessionStore(db), backend, logger.With("component", "call"),
		call.WithPolicy(policy),
		call.WithTransport(ws.NewTransportRelay(hub)),
		call.WithNotifier(notifier),
	)
	if err != nil {
		slog.Error("failed to restore call session", "error", err)
		os.Exit(1)
	}

	srv := server.New(sessions, ctrl, hub, server.Config{
		AdminUser:         cfg.AdminUser,
		AdminPasswordHash: cfg.AdminPasswordHash,
	}, logger)

	// No WriteTimeout: /ws connections stay open for the whole session.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	driver := call.NewDriver(ctrl, cfg.PollInterval, logger.With("component", "driver"))
	driver.Start(bgCtx)

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-bgCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("carecall starting", "addr", httpServer.Addr, "backend", cfg.BackendURL, "session_store", cfg.SessionStore)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	driver.Stop()
	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

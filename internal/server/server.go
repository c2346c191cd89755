package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/carecall/internal/auth"
	"github.com/dukerupert/carecall/internal/call"
	"github.com/dukerupert/carecall/internal/clock"
	"github.com/dukerupert/carecall/internal/handler"
	"github.com/dukerupert/carecall/internal/middleware"
	ws "github.com/dukerupert/carecall/internal/websocket"
)

// LoginLimit is how many login attempts one client may make per minute.
const LoginLimit = 10

// Config carries the credentials the login endpoint checks.
type Config struct {
	AdminUser         string
	AdminPasswordHash []byte
	// Clock drives the login rate limiter; nil means the wall clock.
	Clock clock.Clock
}

type Server struct {
	sessions    *auth.Manager
	ctrl        *call.Controller
	hub         *ws.Hub
	authH       *handler.AuthHandler
	callH       *handler.CallHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(sessions *auth.Manager, ctrl *call.Controller, hub *ws.Hub, cfg Config, logger *slog.Logger) *Server {
	return &Server{
		sessions:    sessions,
		ctrl:        ctrl,
		hub:         hub,
		authH:       handler.NewAuthHandler(sessions, cfg.AdminUser, cfg.AdminPasswordHash, logger.With("component", "auth")),
		callH:       handler.NewCallHandler(ctrl, logger.With("component", "call")),
		rateLimiter: middleware.NewRateLimiter(cfg.Clock),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /api/session", s.authH.Session)
	outerMux.HandleFunc("GET /health", handler.Health)

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessions)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, LoginLimit, time.Minute)
	return rl(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /logout", s.authH.Logout)

	// Call console
	mux.HandleFunc("GET /api/call", s.callH.Get)
	mux.HandleFunc("POST /api/call/select", s.callH.Select)
	mux.HandleFunc("POST /api/call/start", s.callH.Start)
	mux.HandleFunc("POST /api/call/end", s.callH.End)
	mux.HandleFunc("POST /api/call/tick", s.callH.Tick)
	mux.HandleFunc("POST /api/call/keep-waiting", s.callH.KeepWaiting)
	mux.HandleFunc("POST /api/call/skip", s.callH.Skip)
	mux.HandleFunc("POST /api/call/submit", s.callH.Submit)

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.ctrl.State, s.logger.With("component", "websocket")))
}

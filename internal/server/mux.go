// Package server provides HTTP server construction for wikisync.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/wikisync/internal/auth"
	"github.com/alexjbarnes/wikisync/internal/docsync"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Paths served by the router.
const (
	EndpointPath = "/wikisync"
	EventsPath   = "/events"
	MCPPath      = "/mcp"
)

// MuxConfig holds dependencies for building the HTTP router.
type MuxConfig struct {
	// Endpoint serves the synchronization endpoint.
	Endpoint http.Handler
	// Users guards the endpoint with basic auth. Nil leaves it open.
	Users *auth.Authenticator
	// Store validates API keys for the event feed and MCP tools.
	Store *auth.Store
	// Events feeds /events. Nil disables the route.
	Events *docsync.Broadcaster
	// MCPHandler serves /mcp. Nil disables the route.
	MCPHandler http.Handler
	Logger     *slog.Logger
}

// NewMux builds the router. The endpoint sits behind basic auth when users
// are configured; the event feed and MCP tools need an API key.
func NewMux(cfg MuxConfig) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(cfg.Logger))

	router.Group(func(r chi.Router) {
		if cfg.Users != nil {
			r.Use(auth.BasicAuth(cfg.Users, cfg.Logger))
		}

		r.Handle(EndpointPath, cfg.Endpoint)
	})

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Store, cfg.Logger))

		if cfg.Events != nil {
			r.Get(EventsPath, EventsHandler(cfg.Events, cfg.Logger))
		}

		if cfg.MCPHandler != nil {
			r.Handle(MCPPath, cfg.MCPHandler)
		}
	})

	return router
}

// NewHTTPServer wraps handler with the timeouts used for every listener.
// The write timeout is left unset so event streams stay open.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("size", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

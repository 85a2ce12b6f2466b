// Package api is the operator-facing HTTP API: ledger inspection, user
// link management, widget-session generation, and metrics. It never sits
// on the webhook ingestion path.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/biothread/vitalgate/internal/aggregator"
	"github.com/biothread/vitalgate/internal/auth"
	"github.com/biothread/vitalgate/internal/events"
	"github.com/biothread/vitalgate/internal/ledger"
)

// LedgerReader is the read side of the ingestion ledger.
type LedgerReader interface {
	Get(ctx context.Context, id string) (*ledger.Event, error)
	List(ctx context.Context, limit, offset int) ([]*ledger.Event, error)
	CountByState(ctx context.Context) (map[ledger.State]int, error)
}

// UserLinker manages external-reference-to-local-user mappings.
type UserLinker interface {
	Link(ctx context.Context, externalRef, userID string) error
	Unlink(ctx context.Context, externalRef string) error
}

// SessionGenerator obtains aggregator connection-flow sessions.
type SessionGenerator interface {
	GenerateWidgetSession(ctx context.Context, localUserID, providerMode, successURL, failureURL string) (*aggregator.WidgetSession, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	Tokens []auth.TokenConfig
}

// Server is the operator API HTTP server.
type Server struct {
	config    Config
	ledger    LedgerReader
	users     UserLinker
	sessions  SessionGenerator
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates an operator API server. sessions may be nil when no
// aggregator is configured; POST /widget-session then returns 503.
func New(config Config, lr LedgerReader, ul UserLinker, sessions SessionGenerator, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		ledger:    lr,
		users:     ul,
		sessions:  sessions,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes("events:ro")).Get("/events", s.handleListEvents)
		r.With(s.requireScopes("events:ro")).Get("/events/stream", s.handleEventStream)
		r.With(s.requireScopes("events:ro")).Get("/events/{id}", s.handleGetEvent)
		r.With(s.requireScopes("users:rw")).Post("/users/link", s.handleLinkUser)
		r.With(s.requireScopes("users:rw")).Delete("/users/link/{ref}", s.handleUnlinkUser)
		r.With(s.requireScopes("users:rw")).Post("/widget-session", s.handleWidgetSession)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware resolves the bearer token to a principal.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := auth.Authenticate(token, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// requireScopes gates a route on any of the given scopes (or "*").
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

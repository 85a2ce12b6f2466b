package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is the inbound webhook HTTP server.
type Server struct {
	config   Config
	ingestor *Ingestor
	logger   *slog.Logger
	server   *http.Server

	// endpoints maps URL paths to their configurations
	endpoints map[string]*EndpointConfig
}

// New creates a new webhook server instance.
func New(config Config, ingestor *Ingestor, logger *slog.Logger) *Server {
	// Build endpoint lookup map
	endpoints := make(map[string]*EndpointConfig)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:    config,
		ingestor:  ingestor,
		logger:    logger,
		endpoints: endpoints,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	// Run server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Register webhook endpoints
	for path := range s.endpoints {
		r.Post(path, s.handleDelivery)
	}

	return r
}

// loggingMiddleware logs HTTP requests (excludes payload content).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleDelivery handles one inbound webhook POST.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondStatus(w, http.StatusNotFound, statusError)
		return
	}

	// The raw bytes must be read before any parsing: the signature was
	// computed over the exact wire bytes.
	limitedReader := io.LimitReader(r.Body, endpoint.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondStatus(w, http.StatusInternalServerError, statusError)
		return
	}

	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondStatus(w, http.StatusRequestEntityTooLarge, statusError)
		return
	}

	// Missing header fails closed, same as a bad signature.
	signature := r.Header.Get(endpoint.SignatureHeader)
	if err := verifyHMACSignature(body, signature, endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature verification failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(ctx),
		)
		s.respondStatus(w, http.StatusUnauthorized, statusUnauthorized)
		return
	}

	result, err := s.ingestor.Ingest(ctx, body)
	if err != nil {
		// Transient store failure. 500 tells the sender to redeliver.
		s.logger.Error("ingestion failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(ctx),
			"error", err,
		)
		s.respondStatus(w, http.StatusInternalServerError, statusError)
		return
	}

	switch result.Outcome {
	case OutcomeApplied, OutcomeDuplicate:
		// Replays short-circuit with success; reporting them as errors
		// would make the sender retry indefinitely.
		s.respondStatus(w, http.StatusOK, statusOK)
	case OutcomeRejected:
		s.respondStatus(w, http.StatusBadRequest, statusRejected)
	case OutcomeFailed:
		s.respondStatus(w, http.StatusInternalServerError, statusError)
	default:
		s.respondStatus(w, http.StatusInternalServerError, statusError)
	}
}

// respondStatus sends the minimal JSON status body.
func (s *Server) respondStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(StatusResponse{Status: status})
}

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

	"github.com/clarityxdr/orchestrator/internal/config"
	"github.com/clarityxdr/orchestrator/internal/ingest"
	"github.com/clarityxdr/orchestrator/internal/log"
)

// EventRouter routes a verified webhook delivery to its handler.
type EventRouter interface {
	HandleEvent(ctx context.Context, category string, body []byte) ingest.Outcome
}

// Server receives signed webhook deliveries, verifies them, and hands
// them to the ingestion pipeline.
type Server struct {
	config config.WebhookConfig
	router EventRouter
	logger *slog.Logger
	server *http.Server
}

// eventHeader carries the delivery category ("issues", "issue_comment", ...).
const eventHeader = "X-GitHub-Event"

// New creates a new webhook server instance.
func New(cfg config.WebhookConfig, router EventRouter) *Server {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = config.DefaultMaxBodySize
	}
	return &Server{
		config: cfg,
		router: router,
		logger: log.WithComponent("webhook"),
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

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

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

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post(s.config.Path, s.handleDelivery)

	return r
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
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

// handleDelivery handles an incoming webhook POST request.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limitedReader := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}

	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(s.config.SignatureHeader)
	if signature == "" {
		s.logger.Warn("webhook signature missing",
			"path", r.URL.Path,
			"header", s.config.SignatureHeader,
		)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	// Verify HMAC signature (constant-time comparison)
	if err := verifySignature(body, signature, s.config.Secret); err != nil {
		s.logger.Warn("webhook signature verification failed",
			"path", r.URL.Path,
			"error", err,
		)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	category := r.Header.Get(eventHeader)
	outcome := s.router.HandleEvent(ctx, category, body)

	s.logger.Info("webhook delivery handled",
		"event", category,
		"status", outcome.Status,
		"agent", outcome.Agent,
		"issue", outcome.Issue,
		"reason", outcome.Reason,
	)

	switch outcome.Status {
	case ingest.OutcomeQueued:
		s.respondJSON(w, http.StatusAccepted, outcome)
	case ingest.OutcomeIgnored:
		s.respondJSON(w, http.StatusOK, outcome)
	default:
		s.respondJSON(w, http.StatusUnprocessableEntity, outcome)
	}
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: message})
}

type errorResponse struct {
	Error string `json:"error"`
}

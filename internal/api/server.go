package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clarityxdr/orchestrator/internal/agent"
	"github.com/clarityxdr/orchestrator/internal/config"
	"github.com/clarityxdr/orchestrator/internal/events"
	"github.com/clarityxdr/orchestrator/internal/health"
	"github.com/clarityxdr/orchestrator/internal/log"
	"github.com/clarityxdr/orchestrator/internal/store"
	"github.com/clarityxdr/orchestrator/internal/task"
)

// TaskQueue defines the queue operations the API depends on.
type TaskQueue interface {
	Submit(ctx context.Context, payload map[string]any) (*task.Task, error)
	Status(ctx context.Context, id string) (*task.Task, error)
}

// AgentRegistry defines the in-memory registry operations the API depends on.
type AgentRegistry interface {
	Get(id string) (*agent.Instance, bool)
	Count() int
	Refresh(ctx context.Context) error
	Delegate(ctx context.Context, task agent.Message, targets []string) map[string]agent.Result
}

// AgentStore defines definition reads plus the activation toggles.
type AgentStore interface {
	List(ctx context.Context) ([]store.Definition, error)
	Get(ctx context.Context, id string) (store.Definition, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// ActionLogStore reads the audit trail.
type ActionLogStore interface {
	ListByAgent(ctx context.Context, agentID string, limit int) ([]store.ActionLogEntry, error)
}

// RelationshipStore reads the agent relationship graph.
type RelationshipStore interface {
	List(ctx context.Context) ([]store.Relationship, error)
}

// HealthChecker probes service dependencies.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// Server is the HTTP API surface of the orchestrator.
type Server struct {
	config   config.APIConfig
	queue    TaskQueue
	registry AgentRegistry
	agents   AgentStore
	logs     ActionLogStore
	rels     RelationshipStore
	checker  HealthChecker
	hub      *events.Hub
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new API server instance.
func New(cfg config.APIConfig, queue TaskQueue, registry AgentRegistry, agents AgentStore, logs ActionLogStore, rels RelationshipStore, checker HealthChecker, hub *events.Hub) *Server {
	return &Server{
		config:   cfg,
		queue:    queue,
		registry: registry,
		agents:   agents,
		logs:     logs,
		rels:     rels,
		checker:  checker,
		hub:      hub,
		logger:   log.WithComponent("api"),
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

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/orchestrate/task", s.handleSubmitTask)
		r.Get("/orchestrate/task/{taskID}", s.handleTaskStatus)
		r.Post("/orchestrate/delegate", s.handleDelegate)

		r.Get("/agents", s.handleListAgents)
		r.Get("/agents/relationships", s.handleRelationships)
		r.Post("/agents/refresh", s.handleRefreshAgents)
		r.Get("/agents/{agentID}", s.handleGetAgent)
		r.Post("/agents/{agentID}/activate", s.handleActivate)
		r.Post("/agents/{agentID}/deactivate", s.handleDeactivate)
		r.Get("/agents/{agentID}/logs", s.handleAgentLogs)

		r.Get("/events", s.handleEvents)
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

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/renalworks/nefro/pkg/agent"
	"github.com/renalworks/nefro/pkg/config"
	"github.com/renalworks/nefro/pkg/logger"
	"github.com/renalworks/nefro/pkg/orchestrator"
	"github.com/renalworks/nefro/pkg/retrieval"
	"github.com/renalworks/nefro/pkg/session"
)

// Server fronts the orchestration core over HTTP.
type Server struct {
	http     *http.Server
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	policy   *session.Policy
	registry *agent.Registry
	health   *retrieval.HealthSupervisor
	logger   *slog.Logger
}

func New(cfg *config.Config, orch *orchestrator.Orchestrator, sessions *session.Manager, policy *session.Policy, registry *agent.Registry, health *retrieval.HealthSupervisor) *Server {
	s := &Server{
		orch:     orch,
		sessions: sessions,
		policy:   policy,
		registry: registry,
		health:   health,
		logger:   logger.GetLogger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/health", s.handleHealth)
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/chat/stream", s.handleChatStream)
		r.Post("/chat/{session_id}/cancel", s.handleCancel)

		r.Get("/rooms", s.handleListRooms)
		r.Get("/rooms/{room_id}/history", s.handleRoomHistory)
		r.Get("/history/{agent_type}", s.handleAgentHistory)

		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{session_id}", s.handleGetSession)
		r.Post("/sessions/{session_id}/reset", s.handleResetSession)

		r.Get("/agents", s.handleListAgents)
	})

	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}
	return s
}

// Start blocks serving until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.http.Shutdown(ctx)
}

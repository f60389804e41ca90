package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clarityxdr/orchestrator/internal/agent"
	"github.com/clarityxdr/orchestrator/internal/events"
	"github.com/clarityxdr/orchestrator/internal/health"
	"github.com/clarityxdr/orchestrator/internal/store"
	"github.com/clarityxdr/orchestrator/internal/task"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.checker.Check(r.Context())

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}

// handleSubmitTask handles POST /orchestrate/task.
// Accepts either {"payload": {...}} or a bare task object for convenience.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	payload := raw
	if inner, ok := raw["payload"].(map[string]any); ok && len(raw) == 1 {
		payload = inner
	}
	if len(payload) == 0 {
		s.writeError(w, http.StatusBadRequest, "empty task payload")
		return
	}

	t, err := s.queue.Submit(r.Context(), payload)
	if err != nil {
		s.logger.Error("failed to submit task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	respondJSON(w, http.StatusAccepted, taskResponse(t))
}

// handleTaskStatus handles GET /orchestrate/task/{taskID}.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	t, err := s.queue.Status(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found or expired")
			return
		}
		s.logger.Error("failed to retrieve task", "task_id", taskID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}

	respondJSON(w, http.StatusOK, taskResponse(t))
}

// handleDelegate handles POST /orchestrate/delegate. Fans the task out to
// every target synchronously and returns the per-agent result map.
func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	var req DelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Targets) == 0 {
		s.writeError(w, http.StatusBadRequest, "targets is empty")
		return
	}

	msg := agent.Message{}
	for k, v := range req.Task {
		msg[k] = v
	}

	results := s.registry.Delegate(r.Context(), msg, req.Targets)

	resp := DelegateResponse{Results: make(map[string]AgentResult, len(results))}
	for id, res := range results {
		resp.Results[id] = AgentResult{
			Status:   res.Status,
			Response: res.Response,
			Error:    res.Error,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListAgents handles GET /agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	defs, err := s.agents.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list agents", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}

	resp := AgentListResponse{Agents: make([]AgentSummary, 0, len(defs))}
	for _, def := range defs {
		_, loaded := s.registry.Get(def.ID)
		resp.Agents = append(resp.Agents, AgentSummary{
			ID:       def.ID,
			Name:     def.Name,
			Type:     def.Type,
			IsActive: def.IsActive,
			Loaded:   loaded,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleRelationships handles GET /agents/relationships.
func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	rels, err := s.rels.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list relationships", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list relationships")
		return
	}
	if rels == nil {
		rels = []store.Relationship{}
	}
	respondJSON(w, http.StatusOK, RelationshipListResponse{Relationships: rels})
}

// handleGetAgent handles GET /agents/{agentID}.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	def, err := s.agents.Get(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			s.writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.logger.Error("failed to retrieve agent", "agent_id", agentID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve agent")
		return
	}

	_, loaded := s.registry.Get(def.ID)
	respondJSON(w, http.StatusOK, AgentDetail{
		ID:           def.ID,
		Name:         def.Name,
		Type:         def.Type,
		Description:  def.Description,
		Capabilities: def.Capabilities,
		Config:       def.Config,
		Repository:   def.Repository,
		Labels:       def.Labels,
		Guidelines:   def.Guidelines,
		IsActive:     def.IsActive,
		Loaded:       loaded,
		CreatedAt:    def.CreatedAt,
		UpdatedAt:    def.UpdatedAt,
	})
}

// handleActivate handles POST /agents/{agentID}/activate.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.toggleAgent(w, r, true)
}

// handleDeactivate handles POST /agents/{agentID}/deactivate.
func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	s.toggleAgent(w, r, false)
}

// toggleAgent flips the active flag, writes the audit record, and refreshes
// the registry so the change takes effect immediately.
func (s *Server) toggleAgent(w http.ResponseWriter, r *http.Request, active bool) {
	agentID := chi.URLParam(r, "agentID")

	if err := s.agents.SetActive(r.Context(), agentID, active); err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			s.writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.logger.Error("failed to toggle agent", "agent_id", agentID, "active", active, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update agent")
		return
	}

	if err := s.registry.Refresh(r.Context()); err != nil {
		// The store update succeeded; the stale registry catches up on the
		// next refresh.
		s.logger.Error("registry refresh after toggle failed", "agent_id", agentID, "error", err)
	}

	s.hub.Publish(events.KindAgentToggled, map[string]any{"agent_id": agentID, "is_active": active})
	respondJSON(w, http.StatusOK, ToggleResponse{AgentID: agentID, IsActive: active})
}

// handleAgentLogs handles GET /agents/{agentID}/logs?limit=N.
func (s *Server) handleAgentLogs(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	if _, err := s.agents.Get(r.Context(), agentID); err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			s.writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		s.logger.Error("failed to retrieve agent", "agent_id", agentID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve agent")
		return
	}

	entries, err := s.logs.ListByAgent(r.Context(), agentID, limit)
	if err != nil {
		s.logger.Error("failed to list action logs", "agent_id", agentID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list action logs")
		return
	}

	resp := ActionLogResponse{AgentID: agentID, Logs: make([]ActionLogEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Logs = append(resp.Logs, ActionLogEntry{
			ID:         e.ID,
			ActionType: e.ActionType,
			Status:     e.Status,
			Details:    e.Details,
			Result:     e.Result,
			Repository: e.IssueRepository,
			Issue:      e.IssueNumber,
			CreatedAt:  e.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleRefreshAgents handles POST /agents/refresh.
func (s *Server) handleRefreshAgents(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Refresh(r.Context()); err != nil {
		s.logger.Error("registry refresh failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "registry refresh failed")
		return
	}
	respondJSON(w, http.StatusOK, RefreshResponse{Status: "ok", Agents: s.registry.Count()})
}

func taskResponse(t *task.Task) TaskResponse {
	return TaskResponse{
		TaskID: t.ID,
		Type:   t.Type,
		Status: string(t.Status),
		Result: t.Result,
		Error:  t.Error,
	}
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

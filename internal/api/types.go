package api

import (
	"encoding/json"
	"time"

	"github.com/clarityxdr/orchestrator/internal/store"
)

// TaskResponse mirrors a persisted task record.
type TaskResponse struct {
	TaskID string          `json:"task_id"`
	Type   string          `json:"type,omitempty"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// DelegateRequest is the body for POST /orchestrate/delegate.
type DelegateRequest struct {
	Targets []string       `json:"targets"`
	Task    map[string]any `json:"task"`
}

// DelegateResponse maps each target agent ID to its result.
type DelegateResponse struct {
	Results map[string]AgentResult `json:"results"`
}

// AgentResult is one agent's outcome in a delegation fan-out.
type AgentResult struct {
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AgentSummary is the list-view shape of an agent definition.
type AgentSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsActive bool   `json:"is_active"`
	Loaded   bool   `json:"loaded"`
}

// AgentDetail is the full definition plus load state.
type AgentDetail struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Description  string          `json:"description,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	Repository   string          `json:"repository,omitempty"`
	Labels       []string        `json:"labels,omitempty"`
	Guidelines   string          `json:"guidelines,omitempty"`
	IsActive     bool            `json:"is_active"`
	Loaded       bool            `json:"loaded"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RelationshipListResponse wraps GET /agents/relationships.
type RelationshipListResponse struct {
	Relationships []store.Relationship `json:"relationships"`
}

// AgentListResponse wraps GET /agents.
type AgentListResponse struct {
	Agents []AgentSummary `json:"agents"`
}

// ActionLogResponse wraps GET /agents/{agentID}/logs.
type ActionLogResponse struct {
	AgentID string           `json:"agent_id"`
	Logs    []ActionLogEntry `json:"logs"`
}

// ActionLogEntry is one audit record in an API response.
type ActionLogEntry struct {
	ID         string          `json:"id"`
	ActionType string          `json:"action_type"`
	Status     string          `json:"status"`
	Details    json.RawMessage `json:"details,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Repository string          `json:"repository,omitempty"`
	Issue      int             `json:"issue,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ToggleResponse wraps activate/deactivate.
type ToggleResponse struct {
	AgentID  string `json:"agent_id"`
	IsActive bool   `json:"is_active"`
}

// RefreshResponse wraps POST /agents/refresh.
type RefreshResponse struct {
	Status string `json:"status"`
	Agents int    `json:"agents"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

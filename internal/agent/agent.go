// Package agent holds the live agent registry and per-type message
// processing behavior. Instances are built from persisted definitions at
// startup and owned exclusively by the Registry.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/clarityxdr/orchestrator/internal/store"
)

// Message is the open-schema payload handed to an agent.
type Message map[string]any

// Result is the outcome of one processing invocation.
type Result struct {
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ActionLogger appends audit entries. Logging is best-effort: failures are
// reported to the caller's logger, never to the business result.
type ActionLogger interface {
	Append(ctx context.Context, entry store.ActionLogEntry) error
}

// Behavior is the per-type response capability. Implementations are
// stateless; all per-agent data comes from the definition.
type Behavior interface {
	// Respond produces the response payload for a message.
	Respond(def store.Definition, msg Message) (string, error)
}

// Instance is the runtime wrapper around one agent definition. Identity is
// the definition ID; there is exactly one instance per ID in a registry
// snapshot.
type Instance struct {
	def      store.Definition
	behavior Behavior
	logs     ActionLogger
	logger   *slog.Logger
}

func newInstance(def store.Definition, behavior Behavior, logs ActionLogger, logger *slog.Logger) *Instance {
	return &Instance{
		def:      def,
		behavior: behavior,
		logs:     logs,
		logger:   logger.With(slog.String("agent_id", def.ID), slog.String("agent", def.Name)),
	}
}

func (a *Instance) ID() string                   { return a.def.ID }
func (a *Instance) Name() string                 { return a.def.Name }
func (a *Instance) Type() string                 { return a.def.Type }
func (a *Instance) Repository() string           { return a.def.Repository }
func (a *Instance) Labels() []string             { return a.def.Labels }
func (a *Instance) Definition() store.Definition { return a.def }

// ProcessMessage invokes the agent's response capability and appends exactly
// one action log entry for the invocation.
func (a *Instance) ProcessMessage(ctx context.Context, msg Message) Result {
	content, _ := msg["content"].(string)
	a.logger.Info("processing message", "preview", truncate(content, 50))

	response, err := a.behavior.Respond(a.def, msg)
	if err != nil {
		res := Result{Status: StatusError, Error: err.Error()}
		a.logAction(ctx, "PROCESS_MESSAGE", StatusError, msg, res)
		return res
	}

	res := Result{Status: StatusSuccess, Response: response}
	a.logAction(ctx, "PROCESS_MESSAGE", StatusSuccess, msg, res)
	return res
}

// Generate invokes the response capability without the per-message audit
// entry. The ingestion pipeline logs around this call itself.
func (a *Instance) Generate(_ context.Context, subject, body string) (string, error) {
	return a.behavior.Respond(a.def, Message{"subject": subject, "content": body})
}

// logAction records an audit entry, best-effort. A logging failure must not
// fail the business result.
func (a *Instance) logAction(ctx context.Context, actionType, status string, msg Message, res Result) {
	details := json.RawMessage(`{}`)
	if id, ok := msg["id"].(string); ok {
		details, _ = json.Marshal(map[string]string{"message_id": id})
	}
	resultRaw, _ := json.Marshal(res)

	err := a.logs.Append(ctx, store.ActionLogEntry{
		AgentID:    a.def.ID,
		ActionType: actionType,
		Status:     status,
		Details:    details,
		Result:     resultRaw,
	})
	if err != nil {
		a.logger.Error("failed to log agent action", "action_type", actionType, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clarityxdr/orchestrator/internal/agent"
)

// AgentDispatcher is the slice of the registry the built-in handlers need.
type AgentDispatcher interface {
	Process(ctx context.Context, id string, msg agent.Message) agent.Result
	Delegate(ctx context.Context, task agent.Message, targets []string) map[string]agent.Result
	All() []*agent.Instance
}

// Task type tags with built-in handlers.
const (
	TypeAgentConversation = "agent_conversation"
	TypeSecurityAlert     = "security_alert"
	TypeKQLQuery          = "kql_query"
)

var securityTypes = map[string]bool{
	"CISO":             true,
	"KQL_HUNTING":      true,
	"SECURITY_COPILOT": true,
	"PURVIEW_GRC":      true,
}

// RegisterDefaultHandlers wires the fixed set of named handlers onto the
// queue, all dispatching through the agent registry.
func RegisterDefaultHandlers(q *Queue, reg AgentDispatcher) {
	q.RegisterHandler(TypeAgentConversation, handleAgentConversation(reg))
	q.RegisterHandler(TypeSecurityAlert, handleSecurityAlert(reg))
	q.RegisterHandler(TypeKQLQuery, handleKQLQuery(reg))
}

// handleAgentConversation routes a conversation message to one agent.
func handleAgentConversation(reg AgentDispatcher) Handler {
	return func(ctx context.Context, t *Task) (json.RawMessage, error) {
		agentID, _ := t.Payload["agent_id"].(string)
		if agentID == "" {
			return nil, fmt.Errorf("agent_conversation task requires agent_id")
		}

		res := reg.Process(ctx, agentID, messageFor(t))
		if res.Status != agent.StatusSuccess {
			return nil, fmt.Errorf("agent %s: %s", agentID, res.Error)
		}
		return json.Marshal(res)
	}
}

// handleSecurityAlert fans the alert out to every loaded security agent.
// Individual agent failures land in the per-target result map; the task
// itself only fails when no security agent is loaded at all.
func handleSecurityAlert(reg AgentDispatcher) Handler {
	return func(ctx context.Context, t *Task) (json.RawMessage, error) {
		var targets []string
		for _, inst := range reg.All() {
			if securityTypes[inst.Type()] {
				targets = append(targets, inst.ID())
			}
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("no security agents loaded")
		}

		results := reg.Delegate(ctx, messageFor(t), targets)
		return json.Marshal(results)
	}
}

// handleKQLQuery routes a hunting query to the first KQL hunting agent.
func handleKQLQuery(reg AgentDispatcher) Handler {
	return func(ctx context.Context, t *Task) (json.RawMessage, error) {
		for _, inst := range reg.All() {
			if inst.Type() != "KQL_HUNTING" {
				continue
			}
			res := reg.Process(ctx, inst.ID(), messageFor(t))
			if res.Status != agent.StatusSuccess {
				return nil, fmt.Errorf("agent %s: %s", inst.ID(), res.Error)
			}
			return json.Marshal(res)
		}
		return nil, fmt.Errorf("no KQL hunting agent loaded")
	}
}

// messageFor projects the task payload into an agent message, tagged with
// the task identifier for the audit trail.
func messageFor(t *Task) agent.Message {
	msg := agent.Message{"id": t.ID}
	for k, v := range t.Payload {
		if k == "type" {
			continue
		}
		msg[k] = v
	}
	return msg
}

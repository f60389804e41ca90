package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/clarityxdr/orchestrator/internal/agent"
	"github.com/clarityxdr/orchestrator/internal/kvstore"
	"github.com/clarityxdr/orchestrator/internal/store"
)

type staticLister struct {
	defs []store.Definition
}

func (s *staticLister) ListActive(context.Context) ([]store.Definition, error) {
	return s.defs, nil
}

type discardLogs struct{}

func (discardLogs) Append(context.Context, store.ActionLogEntry) error { return nil }

func loadedRegistry(t *testing.T, defs ...store.Definition) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry(&staticLister{defs: defs}, discardLogs{})
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}

func queueWithRegistry(t *testing.T, reg *agent.Registry) *Queue {
	t.Helper()
	q := NewQueue(kvstore.NewMemory(time.Hour), time.Hour, 2, 16, nil)
	RegisterDefaultHandlers(q, reg)
	return q
}

func TestHandleAgentConversation(t *testing.T) {
	ctx := context.Background()
	reg := loadedRegistry(t, store.Definition{ID: "ceo-1", Name: "CEO", Type: "CEO"})
	q := queueWithRegistry(t, reg)

	submitted, err := q.Submit(ctx, map[string]any{
		"type":     TypeAgentConversation,
		"agent_id": "ceo-1",
		"content":  "quarterly planning",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	q.Process(ctx, submitted.ID)

	got, err := q.Status(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("Status = %q (error %q), want completed", got.Status, got.Error)
	}

	var res agent.Result
	if err := json.Unmarshal(got.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Status != agent.StatusSuccess {
		t.Errorf("result status = %q, want success", res.Status)
	}
	if res.Response == "" {
		t.Error("result response is empty")
	}
}

func TestHandleAgentConversationMissingAgentID(t *testing.T) {
	ctx := context.Background()
	q := queueWithRegistry(t, loadedRegistry(t))

	submitted, _ := q.Submit(ctx, map[string]any{"type": TypeAgentConversation})
	q.Process(ctx, submitted.ID)

	got, _ := q.Status(ctx, submitted.ID)
	if got.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", got.Status)
	}
	if got.Error != "agent_conversation task requires agent_id" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestHandleAgentConversationUnknownAgent(t *testing.T) {
	ctx := context.Background()
	q := queueWithRegistry(t, loadedRegistry(t))

	submitted, _ := q.Submit(ctx, map[string]any{
		"type":     TypeAgentConversation,
		"agent_id": "ghost",
	})
	q.Process(ctx, submitted.ID)

	got, _ := q.Status(ctx, submitted.ID)
	if got.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", got.Status)
	}
	if got.Error != "agent ghost: Agent not found" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestHandleSecurityAlertFansOutToSecurityAgents(t *testing.T) {
	ctx := context.Background()
	reg := loadedRegistry(t,
		store.Definition{ID: "ciso-1", Name: "CISO", Type: "CISO"},
		store.Definition{ID: "kql-1", Name: "Hunter", Type: "KQL_HUNTING"},
		store.Definition{ID: "sales-1", Name: "Sales", Type: "SALES"},
	)
	q := queueWithRegistry(t, reg)

	submitted, _ := q.Submit(ctx, map[string]any{
		"type":    TypeSecurityAlert,
		"content": "suspicious sign-in burst",
	})
	q.Process(ctx, submitted.ID)

	got, _ := q.Status(ctx, submitted.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("Status = %q (error %q), want completed", got.Status, got.Error)
	}

	var results map[string]agent.Result
	if err := json.Unmarshal(got.Result, &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results size = %d, want 2 (security agents only)", len(results))
	}
	for id, res := range results {
		if res.Status != agent.StatusSuccess {
			t.Errorf("agent %s status = %q", id, res.Status)
		}
	}
	if _, ok := results["sales-1"]; ok {
		t.Error("non-security agent received the alert")
	}
}

func TestHandleSecurityAlertNoSecurityAgents(t *testing.T) {
	ctx := context.Background()
	q := queueWithRegistry(t, loadedRegistry(t,
		store.Definition{ID: "sales-1", Name: "Sales", Type: "SALES"},
	))

	submitted, _ := q.Submit(ctx, map[string]any{"type": TypeSecurityAlert})
	q.Process(ctx, submitted.ID)

	got, _ := q.Status(ctx, submitted.ID)
	if got.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", got.Status)
	}
	if got.Error != "no security agents loaded" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestHandleKQLQuery(t *testing.T) {
	ctx := context.Background()
	q := queueWithRegistry(t, loadedRegistry(t,
		store.Definition{ID: "ciso-1", Name: "CISO", Type: "CISO"},
		store.Definition{ID: "kql-1", Name: "Hunter", Type: "KQL_HUNTING"},
	))

	submitted, _ := q.Submit(ctx, map[string]any{
		"type":    TypeKQLQuery,
		"content": "SigninLogs | where ResultType != 0",
	})
	q.Process(ctx, submitted.ID)

	got, _ := q.Status(ctx, submitted.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("Status = %q (error %q), want completed", got.Status, got.Error)
	}
}

func TestHandleKQLQueryNoHuntingAgent(t *testing.T) {
	ctx := context.Background()
	q := queueWithRegistry(t, loadedRegistry(t,
		store.Definition{ID: "ciso-1", Name: "CISO", Type: "CISO"},
	))

	submitted, _ := q.Submit(ctx, map[string]any{"type": TypeKQLQuery})
	q.Process(ctx, submitted.ID)

	got, _ := q.Status(ctx, submitted.ID)
	if got.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", got.Status)
	}
	if got.Error != "no KQL hunting agent loaded" {
		t.Errorf("Error = %q", got.Error)
	}
}

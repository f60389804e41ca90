package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clarityxdr/orchestrator/internal/agent"
	"github.com/clarityxdr/orchestrator/internal/config"
	"github.com/clarityxdr/orchestrator/internal/events"
	"github.com/clarityxdr/orchestrator/internal/health"
	"github.com/clarityxdr/orchestrator/internal/kvstore"
	"github.com/clarityxdr/orchestrator/internal/store"
	"github.com/clarityxdr/orchestrator/internal/task"
)

const testAPIKey = "test-api-key"

type memAgentStore struct {
	defs map[string]store.Definition
}

func (m *memAgentStore) List(context.Context) ([]store.Definition, error) {
	out := make([]store.Definition, 0, len(m.defs))
	for _, def := range m.defs {
		out = append(out, def)
	}
	return out, nil
}

func (m *memAgentStore) ListActive(context.Context) ([]store.Definition, error) {
	var out []store.Definition
	for _, def := range m.defs {
		if def.IsActive {
			out = append(out, def)
		}
	}
	return out, nil
}

func (m *memAgentStore) Get(_ context.Context, id string) (store.Definition, error) {
	def, ok := m.defs[id]
	if !ok {
		return store.Definition{}, store.ErrAgentNotFound
	}
	return def, nil
}

func (m *memAgentStore) SetActive(_ context.Context, id string, active bool) error {
	def, ok := m.defs[id]
	if !ok {
		return store.ErrAgentNotFound
	}
	def.IsActive = active
	m.defs[id] = def
	return nil
}

type memLogStore struct {
	entries []store.ActionLogEntry
}

func (m *memLogStore) Append(_ context.Context, entry store.ActionLogEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memLogStore) ListByAgent(_ context.Context, agentID string, limit int) ([]store.ActionLogEntry, error) {
	var out []store.ActionLogEntry
	for _, e := range m.entries {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memRelStore struct {
	rels []store.Relationship
}

func (m *memRelStore) List(context.Context) ([]store.Relationship, error) {
	return m.rels, nil
}

type staticChecker struct {
	report health.Report
}

func (s staticChecker) Check(context.Context) health.Report { return s.report }

func testServer(t *testing.T, defs ...store.Definition) (*Server, *memAgentStore, *task.Queue) {
	t.Helper()

	agents := &memAgentStore{defs: make(map[string]store.Definition)}
	for _, def := range defs {
		agents.defs[def.ID] = def
	}
	logs := &memLogStore{}

	registry := agent.NewRegistry(agents, logs)
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("load registry: %v", err)
	}

	queue := task.NewQueue(kvstore.NewMemory(time.Hour), time.Hour, 2, 16, nil)
	task.RegisterDefaultHandlers(queue, registry)

	checker := staticChecker{report: health.Report{
		Status:   health.StatusHealthy,
		Services: map[string]health.Service{"database": {Status: health.StatusHealthy}},
	}}

	cfg := config.APIConfig{
		Enabled: true,
		Listen:  "127.0.0.1:0",
		Auth:    config.APIAuthConfig{APIKey: testAPIKey},
	}
	rels := &memRelStore{rels: []store.Relationship{{
		ID:     "rel-1",
		Source: store.RelationshipEnd{ID: "ciso-1", Name: "CISO", Type: "CISO"},
		Target: store.RelationshipEnd{ID: "ceo-1", Name: "CEO", Type: "CEO"},
		Type:   "reports_to",
	}}}

	srv := New(cfg, queue, registry, agents, logs, rels, checker, events.NewHub(16))
	return srv, agents, queue
}

func doRequest(srv *Server, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
	}
	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthzNoAuth(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := doRequest(srv, http.MethodGet, "/healthz", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var report health.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Status != health.StatusHealthy {
		t.Errorf("report status = %q", report.Status)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv, _, _ := testServer(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/agents"},
		{http.MethodPost, "/orchestrate/task"},
		{http.MethodGet, "/orchestrate/task/some-id"},
		{http.MethodGet, "/events"},
	}
	for _, p := range paths {
		rec := doRequest(srv, p.method, p.path, nil, false)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestAuthRejectsWrongKey(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSubmitAndFetchTask(t *testing.T) {
	srv, _, queue := testServer(t, store.Definition{ID: "ceo-1", Name: "CEO", Type: "CEO", IsActive: true})

	rec := doRequest(srv, http.MethodPost, "/orchestrate/task", map[string]any{
		"type":     "agent_conversation",
		"agent_id": "ceo-1",
		"content":  "hello",
	}, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body.String())
	}

	var submitted TaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if submitted.TaskID == "" || submitted.Status != "pending" {
		t.Fatalf("submitted = %+v", submitted)
	}

	// Drive the worker step directly so the test does not race the pool.
	queue.Process(context.Background(), submitted.TaskID)

	rec = doRequest(srv, http.MethodGet, "/orchestrate/task/"+submitted.TaskID, nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch status = %d", rec.Code)
	}
	var fetched TaskResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &fetched)
	if fetched.Status != "completed" {
		t.Errorf("task status = %q (error %q)", fetched.Status, fetched.Error)
	}
}

func TestTaskStatusNotFound(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := doRequest(srv, http.MethodGet, "/orchestrate/task/unknown-id", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDelegate(t *testing.T) {
	srv, _, _ := testServer(t, store.Definition{ID: "ceo-1", Name: "CEO", Type: "CEO", IsActive: true})

	rec := doRequest(srv, http.MethodPost, "/orchestrate/delegate", DelegateRequest{
		Targets: []string{"ceo-1", "ghost"},
		Task:    map[string]any{"content": "review"},
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp DelegateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	if resp.Results["ceo-1"].Status != "success" {
		t.Errorf("ceo-1 = %+v", resp.Results["ceo-1"])
	}
	if resp.Results["ghost"].Error != "Agent not found" {
		t.Errorf("ghost = %+v", resp.Results["ghost"])
	}
}

func TestListAgents(t *testing.T) {
	srv, _, _ := testServer(t,
		store.Definition{ID: "a-1", Name: "CEO", Type: "CEO", IsActive: true},
		store.Definition{ID: "a-2", Name: "Retired", Type: "SALES", IsActive: false},
	)

	rec := doRequest(srv, http.MethodGet, "/agents", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp AgentListResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(resp.Agents))
	}
	for _, a := range resp.Agents {
		if a.ID == "a-1" && !a.Loaded {
			t.Error("active agent not marked loaded")
		}
		if a.ID == "a-2" && a.Loaded {
			t.Error("inactive agent marked loaded")
		}
	}
}

func TestRelationshipGraph(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := doRequest(srv, http.MethodGet, "/agents/relationships", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp RelationshipListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Relationships) != 1 {
		t.Fatalf("relationships = %d, want 1", len(resp.Relationships))
	}
	rel := resp.Relationships[0]
	if rel.Type != "reports_to" {
		t.Errorf("relationship_type = %q", rel.Type)
	}
	if rel.Source.Name != "CISO" || rel.Target.Name != "CEO" {
		t.Errorf("endpoints = %+v -> %+v", rel.Source, rel.Target)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := doRequest(srv, http.MethodGet, "/agents/ghost", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestActivateDeactivate(t *testing.T) {
	srv, agents, _ := testServer(t, store.Definition{ID: "a-1", Name: "CEO", Type: "CEO", IsActive: true})

	rec := doRequest(srv, http.MethodPost, "/agents/a-1/deactivate", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate status = %d", rec.Code)
	}
	if agents.defs["a-1"].IsActive {
		t.Error("agent still active in store")
	}
	// The registry refresh after the toggle must drop the instance.
	if _, loaded := srv.registry.Get("a-1"); loaded {
		t.Error("agent still loaded in registry after deactivation")
	}

	rec = doRequest(srv, http.MethodPost, "/agents/a-1/activate", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d", rec.Code)
	}
	if !agents.defs["a-1"].IsActive {
		t.Error("agent still inactive in store")
	}
	if _, loaded := srv.registry.Get("a-1"); !loaded {
		t.Error("agent not loaded in registry after activation")
	}
}

func TestAgentLogsLimitValidation(t *testing.T) {
	srv, _, _ := testServer(t, store.Definition{ID: "a-1", Name: "CEO", Type: "CEO", IsActive: true})

	rec := doRequest(srv, http.MethodGet, "/agents/a-1/logs?limit=0", nil, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rec.Code)
	}
	rec = doRequest(srv, http.MethodGet, "/agents/a-1/logs?limit=1000", nil, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=1000 status = %d, want 400", rec.Code)
	}
	rec = doRequest(srv, http.MethodGet, "/agents/a-1/logs", nil, true)
	if rec.Code != http.StatusOK {
		t.Errorf("default limit status = %d, want 200", rec.Code)
	}
}

func TestRefreshAgents(t *testing.T) {
	srv, agents, _ := testServer(t)

	// New definition appears in the store; refresh picks it up.
	agents.defs["new-1"] = store.Definition{ID: "new-1", Name: "CFO", Type: "CFO", IsActive: true}

	rec := doRequest(srv, http.MethodPost, "/agents/refresh", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp RefreshResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Agents != 1 {
		t.Errorf("agents = %d, want 1", resp.Agents)
	}
	if _, loaded := srv.registry.Get("new-1"); !loaded {
		t.Error("new agent not loaded after refresh")
	}
}

func TestEventsStreamReplay(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.hub.Publish(events.KindTaskSubmitted, map[string]string{"task_id": "t-1"})
	srv.hub.Publish(events.KindTaskCompleted, map[string]string{"task_id": "t-1"})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.setupRoutes().ServeHTTP(rec, req)
		close(done)
	}()

	// Give the handler time to replay, then close the stream.
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit on context cancel")
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if strings.Contains(body, "id: 1\n") {
		t.Error("replayed event at or before Last-Event-ID")
	}
	if !strings.Contains(body, "id: 2\nevent: task.completed\n") {
		t.Errorf("missing completed event frame in %q", body)
	}
	if !strings.Contains(body, `data: {"task_id":"t-1"}`) {
		t.Errorf("missing event data in %q", body)
	}
}

func TestSubmitTaskPayloadWrapper(t *testing.T) {
	srv, _, _ := testServer(t, store.Definition{ID: "ceo-1", Name: "CEO", Type: "CEO", IsActive: true})

	// The body may wrap the task object under a single "payload" key.
	rec := doRequest(srv, http.MethodPost, "/orchestrate/task", map[string]any{
		"payload": map[string]any{
			"type":     "agent_conversation",
			"agent_id": "ceo-1",
			"content":  "hello",
		},
	}, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp TaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Type != "agent_conversation" {
		t.Errorf("type = %q, want agent_conversation", resp.Type)
	}
}

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

func resetForTest() {
	logger = nil
	once = *new(sync.Once)
}

func capture() *bytes.Buffer {
	var buf bytes.Buffer
	logger = slog.New(slog.NewJSONHandler(&buf, nil))
	return &buf
}

func TestSetupInitializes(t *testing.T) {
	resetForTest()

	Setup("DEBUG")
	if logger == nil {
		t.Fatal("logger should not be nil after Setup")
	}
}

func TestSetupInvalidLevelFallsBack(t *testing.T) {
	resetForTest()

	// An unknown level must not panic or leave the logger nil.
	Setup("SHOUTING")
	if logger == nil {
		t.Fatal("logger should not be nil after Setup with invalid level")
	}
}

func TestWithComponent(t *testing.T) {
	resetForTest()
	buf := capture()

	WithComponent("webhook").Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if out["component"] != "webhook" {
		t.Errorf("component = %v, want webhook", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", out["msg"])
	}
}

func TestWithAgentAndTask(t *testing.T) {
	resetForTest()
	buf := capture()

	WithAgent("agent-1").Info("a")
	WithTask("task-1").Info("b")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}

	var first, second map[string]any
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if first["agent_id"] != "agent-1" {
		t.Errorf("agent_id = %v", first["agent_id"])
	}
	if second["task_id"] != "task-1" {
		t.Errorf("task_id = %v", second["task_id"])
	}
}

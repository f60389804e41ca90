package health

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/clarityxdr/orchestrator/internal/kvstore"
	"github.com/clarityxdr/orchestrator/internal/storage"
)

type staticCounter int

func (s staticCounter) Count() int { return int(s) }

type downKV struct{}

func (downKV) Get(context.Context, string) (string, error)                 { return "", kvstore.ErrKeyNotFound }
func (downKV) SetEx(context.Context, string, string, time.Duration) error { return nil }
func (downKV) LPush(context.Context, string, ...string) error             { return nil }
func (downKV) Ping(context.Context) error                                 { return errors.New("connection refused") }
func (downKV) Close() error                                               { return nil }

func testChecker(t *testing.T, kv kvstore.Store, counter AgentCounter) *Checker {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "health.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewChecker(db, kv, counter)
}

func TestCheckHealthy(t *testing.T) {
	checker := testChecker(t, kvstore.NewMemory(time.Hour), staticCounter(3))

	report := checker.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("status = %q, want healthy: %+v", report.Status, report)
	}
	for name, svc := range report.Services {
		if svc.Status != StatusHealthy {
			t.Errorf("service %s = %+v", name, svc)
		}
	}
	if report.Uptime == "" {
		t.Error("uptime not reported")
	}
}

func TestCheckDegradedWhenKVDown(t *testing.T) {
	checker := testChecker(t, downKV{}, staticCounter(3))

	report := checker.Check(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("status = %q, want degraded", report.Status)
	}
	if report.Services["kv"].Error == "" {
		t.Error("kv error not surfaced")
	}
	if report.Services["database"].Status != StatusHealthy {
		t.Errorf("database = %+v", report.Services["database"])
	}
}

func TestCheckDegradedWhenNoAgents(t *testing.T) {
	checker := testChecker(t, kvstore.NewMemory(time.Hour), staticCounter(0))

	report := checker.Check(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("status = %q, want degraded", report.Status)
	}
	if report.Services["agents"].Error != "no agents loaded" {
		t.Errorf("agents = %+v", report.Services["agents"])
	}
}

func TestCheckUnhealthyWhenDatabaseDown(t *testing.T) {
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "health.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Close()

	checker := NewChecker(db, kvstore.NewMemory(time.Hour), staticCounter(3))
	report := checker.Check(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("status = %q, want unhealthy", report.Status)
	}
	if report.Services["database"].Status != StatusUnhealthy {
		t.Errorf("database = %+v", report.Services["database"])
	}
}

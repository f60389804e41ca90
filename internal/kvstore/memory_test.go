package kvstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(time.Hour)

	if _, err := s.Get(ctx, "missing"); err != ErrKeyNotFound {
		t.Fatalf("Get(missing) error = %v, want ErrKeyNotFound", err)
	}

	if err := s.SetEx(ctx, "k", "v1", time.Hour); err != nil {
		t.Fatalf("SetEx: %v", err)
	}
	val, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "v1" {
		t.Errorf("Get = %q, want %q", val, "v1")
	}

	// Overwrite replaces the value.
	if err := s.SetEx(ctx, "k", "v2", time.Hour); err != nil {
		t.Fatalf("SetEx overwrite: %v", err)
	}
	val, _ = s.Get(ctx, "k")
	if val != "v2" {
		t.Errorf("Get after overwrite = %q, want %q", val, "v2")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(20 * time.Millisecond)

	if err := s.SetEx(ctx, "k", "v", 20*time.Millisecond); err != nil {
		t.Fatalf("SetEx: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if _, err := s.Get(ctx, "k"); err != ErrKeyNotFound {
		t.Fatalf("Get after expiry error = %v, want ErrKeyNotFound", err)
	}
}

func TestMemoryStoreLPush(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(time.Hour)

	if err := s.LPush(ctx, "queue", "a"); err != nil {
		t.Fatalf("LPush: %v", err)
	}
	if err := s.LPush(ctx, "queue", "b", "c"); err != nil {
		t.Fatalf("LPush: %v", err)
	}
	if n := s.ListLen("queue"); n != 3 {
		t.Errorf("ListLen = %d, want 3", n)
	}
	if n := s.ListLen("other"); n != 0 {
		t.Errorf("ListLen(other) = %d, want 0", n)
	}
}

func TestMemoryStorePing(t *testing.T) {
	s := NewMemory(time.Hour)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestMemoryListCapped(t *testing.T) {
	s := NewMemory(time.Hour)
	ctx := context.Background()

	for i := 0; i < maxListEntries+50; i++ {
		if err := s.LPush(ctx, "task_queue", "id"); err != nil {
			t.Fatalf("LPush: %v", err)
		}
	}

	if got := s.ListLen("task_queue"); got != maxListEntries {
		t.Fatalf("list length = %d, want %d", got, maxListEntries)
	}
}

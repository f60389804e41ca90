// Package kvstore provides the ephemeral key-value store used for task
// state. Values carry a time-to-live; expiry is the garbage collection
// mechanism, there is no explicit eviction.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get when a key is absent or expired.
// Callers treat this as an expected outcome, not a failure.
var ErrKeyNotFound = errors.New("key not found")

// Store is the minimal contract the orchestration core needs:
// get, set-with-expiry, list-push, and a liveness probe.
type Store interface {
	// Get returns the value at key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// SetEx stores value at key with the given time-to-live. Writing an
	// existing key restarts its expiry window.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// LPush prepends values to the list at key.
	LPush(ctx context.Context, key string, values ...string) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

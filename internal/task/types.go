package task

import (
	"encoding/json"
	"errors"
)

// Status is the task lifecycle. Transitions only ever move forward:
// pending -> processing -> completed | failed. Terminal tasks are never
// re-processed by the background path.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is the tracked unit of asynchronous work. It lives in the key-value
// store under "task:<id>" with a fixed expiry; expiry is the cleanup
// mechanism, so an unknown task is an expected outcome, not a failure.
type Task struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Status  Status          `json:"status"`
	Payload map[string]any  `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// ErrTaskNotFound is returned by Status for unknown or expired tasks.
var ErrTaskNotFound = errors.New("task not found")

const (
	keyPrefix = "task:"
	queueKey  = "task_queue"
)

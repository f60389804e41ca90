package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clarityxdr/orchestrator/internal/events"
	"github.com/clarityxdr/orchestrator/internal/kvstore"
	"github.com/clarityxdr/orchestrator/internal/log"
)

// Handler processes one task and returns its result payload. Handlers are
// registered by task type tag; an unregistered tag fails the task without
// invoking anything.
type Handler func(ctx context.Context, t *Task) (json.RawMessage, error)

// Queue accepts tasks, persists their status in the key-value store with a
// fixed expiry, and feeds a bounded channel consumed by a fixed pool of
// worker goroutines. Each task identifier enters the channel exactly once,
// so at most one worker ever advances a given task (single-writer).
type Queue struct {
	kv      kvstore.Store
	ttl     time.Duration
	workers int
	hub     *events.Hub
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	work chan string
	wg   sync.WaitGroup
}

// NewQueue creates a Queue. workers is the pool size, queueSize bounds the
// in-process backlog (submits block once it fills: explicit backpressure).
func NewQueue(kv kvstore.Store, ttl time.Duration, workers, queueSize int, hub *events.Hub) *Queue {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Queue{
		kv:       kv,
		ttl:      ttl,
		workers:  workers,
		hub:      hub,
		logger:   log.WithComponent("tasks"),
		handlers: make(map[string]Handler),
		work:     make(chan string, queueSize),
	}
}

// RegisterHandler binds a task type tag to its handler.
func (q *Queue) RegisterHandler(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Start runs the worker pool until ctx is cancelled. Blocking. Shutdown is
// best-effort: in-flight tasks finish their current step, the backlog is
// not drained.
func (q *Queue) Start(ctx context.Context) error {
	q.logger.Info("task workers started", "workers", q.workers)
	defer q.logger.Info("task workers stopped")

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	<-ctx.Done()
	q.wg.Wait()
	return ctx.Err()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.work:
			q.Process(ctx, id)
		}
	}
}

// Submit assigns a fresh identifier, persists the task as pending with the
// full expiry window, records it on the queue list, and hands it to the
// worker pool. Returns immediately; processing happens in the background.
func (q *Queue) Submit(ctx context.Context, payload map[string]any) (*Task, error) {
	taskType, _ := payload["type"].(string)

	t := &Task{
		ID:      uuid.NewString(),
		Type:    taskType,
		Status:  StatusPending,
		Payload: payload,
	}
	if err := q.persist(ctx, t); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}
	if err := q.kv.LPush(ctx, queueKey, t.ID); err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	select {
	case q.work <- t.ID:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	q.publish(events.KindTaskSubmitted, t)
	q.logger.Info("task submitted", "task_id", t.ID, "type", t.Type)
	return t, nil
}

// Status reads the persisted record. ErrTaskNotFound covers both unknown
// and expired identifiers; the caller must treat it as a normal outcome.
func (q *Queue) Status(ctx context.Context, id string) (*Task, error) {
	raw, err := q.kv.Get(ctx, keyPrefix+id)
	if err == kvstore.ErrKeyNotFound {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", id, err)
	}

	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

// Process advances one task through the status machine. A missing record is
// an accepted race (the record expired between enqueue and processing) and
// is logged and dropped; no synthesized failure record is written.
func (q *Queue) Process(ctx context.Context, id string) {
	taskLogger := log.WithTask(id)

	t, err := q.Status(ctx, id)
	if err == ErrTaskNotFound {
		taskLogger.Warn("task not found, skipping (may have expired)")
		return
	}
	if err != nil {
		taskLogger.Error("failed to load task", "error", err)
		return
	}
	if t.Status.Terminal() {
		taskLogger.Warn("task already terminal, skipping", "status", t.Status)
		return
	}

	t.Status = StatusProcessing
	if err := q.persist(ctx, t); err != nil {
		taskLogger.Error("failed to mark task processing", "error", err)
		return
	}

	q.mu.RLock()
	handler, ok := q.handlers[t.Type]
	q.mu.RUnlock()
	if !ok {
		taskLogger.Warn("unknown task type", "type", t.Type)
		q.fail(ctx, t, fmt.Sprintf("Unknown task type: %s", t.Type), taskLogger)
		return
	}

	result, err := q.runHandler(ctx, handler, t)
	if err != nil {
		taskLogger.Error("task handler failed", "type", t.Type, "error", err)
		q.fail(ctx, t, err.Error(), taskLogger)
		return
	}

	t.Status = StatusCompleted
	t.Result = result
	if err := q.persist(ctx, t); err != nil {
		taskLogger.Error("failed to mark task completed", "error", err)
		return
	}
	q.publish(events.KindTaskCompleted, t)
	taskLogger.Info("task completed", "type", t.Type)
}

// runHandler invokes the handler with panic containment: a panicking
// handler fails its own task, never the worker.
func (q *Queue) runHandler(ctx context.Context, handler Handler, t *Task) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, t)
}

// fail writes the terminal failed status. Errors here are contained: the
// record may simply expire.
func (q *Queue) fail(ctx context.Context, t *Task, msg string, taskLogger *slog.Logger) {
	t.Status = StatusFailed
	t.Error = msg
	if err := q.persist(ctx, t); err != nil {
		taskLogger.Error("failed to mark task failed", "error", err)
		return
	}
	q.publish(events.KindTaskFailed, t)
}

// persist writes the record, re-applying the full expiry window. Every
// status write refreshes the TTL.
func (q *Queue) persist(ctx context.Context, t *Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return q.kv.SetEx(ctx, keyPrefix+t.ID, string(raw), q.ttl)
}

func (q *Queue) publish(kind events.Kind, t *Task) {
	if q.hub == nil {
		return
	}
	q.hub.Publish(kind, map[string]any{
		"task_id": t.ID,
		"type":    t.Type,
		"status":  t.Status,
	})
}

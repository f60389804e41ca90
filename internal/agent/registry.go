package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/clarityxdr/orchestrator/internal/log"
	"github.com/clarityxdr/orchestrator/internal/store"
)

// AgentLister reads agent definitions from the relational store.
type AgentLister interface {
	ListActive(ctx context.Context) ([]store.Definition, error)
}

// Registry owns the live agent instances. It is built once at startup and
// read-mostly afterwards; Refresh atomically swaps in a new snapshot so
// concurrent readers never observe a partial rebuild.
type Registry struct {
	agents AgentLister
	logs   ActionLogger
	logger *slog.Logger
	snap   atomic.Pointer[snapshot]
}

// snapshot is an immutable view of the loaded instances.
type snapshot struct {
	byID    map[string]*Instance
	ordered []*Instance
}

func NewRegistry(agents AgentLister, logs ActionLogger) *Registry {
	r := &Registry{
		agents: agents,
		logs:   logs,
		logger: log.WithComponent("registry"),
	}
	r.snap.Store(&snapshot{byID: make(map[string]*Instance)})
	return r
}

// Load reads all active definitions and constructs one instance per
// definition. The load is all-or-nothing: a query failure leaves the
// current snapshot untouched and is fatal at startup.
func (r *Registry) Load(ctx context.Context) error {
	defs, err := r.agents.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("load agent definitions: %w", err)
	}

	snap := &snapshot{
		byID:    make(map[string]*Instance, len(defs)),
		ordered: make([]*Instance, 0, len(defs)),
	}
	for _, def := range defs {
		inst := newInstance(def, behaviorFor(def.Type), r.logs, r.logger)
		snap.byID[def.ID] = inst
		snap.ordered = append(snap.ordered, inst)
		r.logger.Info("initialized agent", "agent", def.Name, "type", def.Type)
	}

	r.snap.Store(snap)
	r.logger.Info("agent registry loaded", "count", len(defs))
	return nil
}

// Refresh rebuilds the snapshot from the store. Readers mid-flight keep the
// old snapshot until the swap completes.
func (r *Registry) Refresh(ctx context.Context) error {
	return r.Load(ctx)
}

// Get returns the instance for an identifier, or false. Never panics on an
// unknown identifier.
func (r *Registry) Get(id string) (*Instance, bool) {
	inst, ok := r.snap.Load().byID[id]
	return inst, ok
}

// All returns the loaded instances in definition order.
func (r *Registry) All() []*Instance {
	return r.snap.Load().ordered
}

// Count reports the number of loaded instances.
func (r *Registry) Count() int {
	return len(r.snap.Load().ordered)
}

// Process dispatches a message to the identified agent. An unknown
// identifier yields a structured error result, not a Go error: callers in
// fan-out paths must receive one result per target.
func (r *Registry) Process(ctx context.Context, id string, msg Message) Result {
	inst, ok := r.Get(id)
	if !ok {
		r.logger.Warn("agent not found", "agent_id", id)
		return Result{Status: StatusError, Error: "Agent not found"}
	}
	return inst.ProcessMessage(ctx, msg)
}

// Delegate fans a task out to each target agent independently. Per-target
// failures are captured in that target's result and never abort the
// remaining targets; the returned map always has one entry per requested
// identifier.
func (r *Registry) Delegate(ctx context.Context, task Message, targets []string) map[string]Result {
	results := make(map[string]Result, len(targets))
	for _, id := range targets {
		if inst, ok := r.Get(id); ok {
			r.logger.Info("delegating task to agent", "agent", inst.Name())
		}
		results[id] = r.Process(ctx, id, task)
	}
	return results
}

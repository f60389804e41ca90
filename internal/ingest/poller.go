package ingest

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/clarityxdr/orchestrator/internal/events"
	"github.com/clarityxdr/orchestrator/internal/log"
	"github.com/clarityxdr/orchestrator/internal/store"
)

// Poller sweeps the issue tracker on a fixed interval with jitter, feeding
// unprocessed issues into the shared pipeline. Every per-agent and per-issue
// failure is logged and isolated: one misbehaving repository never starves
// the others, and no error terminates the loop.
type Poller struct {
	pipeline *Pipeline
	interval time.Duration
	jitter   time.Duration
	hub      *events.Hub
	logger   *slog.Logger
}

func NewPoller(pipeline *Pipeline, interval, jitter time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{
		pipeline: pipeline,
		interval: interval,
		jitter:   jitter,
		hub:      pipeline.hub,
		logger:   log.WithComponent("poller"),
	}
}

// Start runs the poll loop until ctx is cancelled. Blocking.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("poller started", "interval", p.interval, "jitter", p.jitter)
	defer p.logger.Info("poller stopped")

	// Initial sweep immediately, then interval + jitter.
	p.tick(ctx)

	for {
		timer := time.NewTimer(p.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) nextDelay() time.Duration {
	delay := p.interval
	if p.jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.jitter)))
	}
	return delay
}

// tick performs one sweep over every agent with a repository reference.
func (p *Poller) tick(ctx context.Context) {
	p.logger.Debug("poll tick")
	if p.hub != nil {
		p.hub.Publish(events.KindPollTick, map[string]any{"at": time.Now().UTC()})
	}

	defs, err := p.pipeline.defs.ListActive(ctx)
	if err != nil {
		p.logger.Error("failed to list agent definitions", "error", err)
		return
	}

	for _, def := range defs {
		if def.Repository == "" {
			continue
		}
		if err := p.pollAgent(ctx, def); err != nil {
			p.logger.Error("agent poll failed", "agent", def.Name, "repository", def.Repository, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// pollAgent fetches open issues for one agent's repository and processes
// the ones without a completed record.
func (p *Poller) pollAgent(ctx context.Context, def store.Definition) error {
	inst, ok := p.pipeline.registry.Get(def.ID)
	if !ok {
		p.logger.Warn("agent active in store but not loaded, skipping", "agent_id", def.ID)
		return nil
	}

	issues, err := p.pipeline.tracker.ListOpenIssues(ctx, def.Repository, def.Labels)
	if err != nil {
		return err
	}

	for _, issue := range issues {
		rec, err := p.pipeline.records.Get(ctx, def.Repository, issue.Number)
		switch {
		case errors.Is(err, store.ErrIssueNotFound):
			// first sighting
		case err != nil:
			p.logger.Error("failed to read issue record", "repository", def.Repository, "issue", issue.Number, "error", err)
			continue
		case rec.Status == store.IssueCompleted:
			continue
		}

		if err := p.pipeline.ProcessIssue(ctx, inst, def.Repository, issue); err != nil {
			p.logger.Error("issue processing failed", "repository", def.Repository, "issue", issue.Number, "error", err)
		}
	}
	return nil
}

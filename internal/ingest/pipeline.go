// Package ingest routes externally originated events (issue opened, comment
// posted) to exactly one responsible agent, deduplicates against persisted
// issue records, and posts the agent's response back to the tracker.
//
// Two entry paths share one processing core: the poll loop and the signed
// webhook. The dedup check-then-act is not atomic against a concurrent
// duplicate delivery; re-posting a comment is a nuisance, not a correctness
// violation, so processing is written to be idempotent rather than locked.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clarityxdr/orchestrator/internal/agent"
	"github.com/clarityxdr/orchestrator/internal/events"
	"github.com/clarityxdr/orchestrator/internal/github"
	"github.com/clarityxdr/orchestrator/internal/log"
	"github.com/clarityxdr/orchestrator/internal/store"
)

const resultPreviewBytes = 200

// Tracker is the outbound slice of the issue-tracker client.
type Tracker interface {
	ListOpenIssues(ctx context.Context, repository string, labels []string) ([]github.Issue, error)
	CreateComment(ctx context.Context, repository string, issueNumber int, body string) error
}

// AgentSource is the slice of the registry the pipeline dispatches through.
type AgentSource interface {
	Get(id string) (*agent.Instance, bool)
	All() []*agent.Instance
}

// DefinitionLister reads persisted definitions for webhook matching. An
// agent can be active in the store yet absent from the loaded registry;
// the pipeline must distinguish the two.
type DefinitionLister interface {
	ListActive(ctx context.Context) ([]store.Definition, error)
}

// IssueRecords is the dedup record store.
type IssueRecords interface {
	Get(ctx context.Context, repository string, issueNumber int) (store.IssueRecord, error)
	MarkProcessing(ctx context.Context, repository string, issueNumber int, agentID string) error
	MarkCompleted(ctx context.Context, repository string, issueNumber int) error
}

// Pipeline is the shared dedup/routing/processing core.
type Pipeline struct {
	registry AgentSource
	defs     DefinitionLister
	records  IssueRecords
	logs     agent.ActionLogger
	tracker  Tracker
	hub      *events.Hub
	logger   *slog.Logger
}

func NewPipeline(registry AgentSource, defs DefinitionLister, records IssueRecords, logs agent.ActionLogger, tracker Tracker, hub *events.Hub) *Pipeline {
	return &Pipeline{
		registry: registry,
		defs:     defs,
		records:  records,
		logs:     logs,
		tracker:  tracker,
		hub:      hub,
		logger:   log.WithComponent("ingest"),
	}
}

// HandleEvent routes one verified webhook delivery. The category comes from
// the event header; anything unrecognized is ignored with the type echoed
// back for observability. Agent work is handed off asynchronously; the
// caller is never blocked on processing.
func (p *Pipeline) HandleEvent(ctx context.Context, category string, body []byte) Outcome {
	switch category {
	case EventIssues:
		return p.handleIssuesEvent(ctx, body)
	case EventIssueComment:
		return p.handleCommentEvent(ctx, body)
	default:
		return Outcome{Status: OutcomeIgnored, Event: category}
	}
}

func (p *Pipeline) handleIssuesEvent(ctx context.Context, body []byte) Outcome {
	var ev IssuesEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Outcome{Status: OutcomeError, Error: "invalid issues payload"}
	}

	switch ev.Action {
	case "opened", "reopened", "labeled", "assigned":
	default:
		return Outcome{Status: OutcomeIgnored, Reason: "unhandled action: " + ev.Action}
	}

	repository := ev.Repository.FullName
	def, found := p.matchAgent(ctx, repository, ev.Issue.LabelNames())
	if !found {
		p.logger.Info("no agent for issue", "repository", repository, "issue", ev.Issue.Number)
		return Outcome{Status: OutcomeIgnored, Reason: "no matching agent"}
	}

	inst, loaded := p.registry.Get(def.ID)
	if !loaded {
		p.logger.Warn("matched agent not loaded", "agent_id", def.ID, "agent", def.Name)
		return Outcome{Status: OutcomeError, Error: "agent not active"}
	}

	issue := ev.Issue
	go func() {
		bg := context.WithoutCancel(ctx)
		if err := p.ProcessIssue(bg, inst, repository, issue); err != nil {
			p.logger.Error("issue processing failed", "repository", repository, "issue", issue.Number, "error", err)
		}
	}()

	p.publish(events.KindIngestQueued, repository, issue.Number, def.Name)
	return Outcome{Status: OutcomeQueued, Agent: def.Name, Issue: issue.Number}
}

func (p *Pipeline) handleCommentEvent(ctx context.Context, body []byte) Outcome {
	var ev IssueCommentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Outcome{Status: OutcomeError, Error: "invalid issue_comment payload"}
	}
	if ev.Action != "created" {
		return Outcome{Status: OutcomeIgnored, Reason: "unhandled action: " + ev.Action}
	}

	// First @mention of a loaded agent display name wins.
	var mentioned *agent.Instance
	for _, inst := range p.registry.All() {
		if strings.Contains(ev.Comment.Body, "@"+inst.Name()) {
			mentioned = inst
			break
		}
	}
	if mentioned == nil {
		return Outcome{Status: OutcomeIgnored, Reason: "no agent mentioned"}
	}

	repository := ev.Repository.FullName
	issue := ev.Issue

	// ProcessIssue re-marks the record unconditionally, so a mention is
	// the one path that reopens even a completed issue.
	inst := mentioned
	go func() {
		bg := context.WithoutCancel(ctx)
		if err := p.ProcessIssue(bg, inst, repository, issue); err != nil {
			p.logger.Error("mention processing failed", "repository", repository, "issue", issue.Number, "error", err)
		}
	}()

	p.publish(events.KindIngestQueued, repository, issue.Number, inst.Name())
	return Outcome{Status: OutcomeQueued, Agent: inst.Name(), Issue: issue.Number}
}

// matchAgent selects the first active definition whose repository matches
// and whose label set is empty (wildcard) or intersects the issue labels.
func (p *Pipeline) matchAgent(ctx context.Context, repository string, labels []string) (store.Definition, bool) {
	defs, err := p.defs.ListActive(ctx)
	if err != nil {
		p.logger.Error("failed to list agent definitions", "error", err)
		return store.Definition{}, false
	}

	for _, def := range defs {
		if def.Repository != repository {
			continue
		}
		if len(def.Labels) == 0 || intersects(def.Labels, labels) {
			return def, true
		}
	}
	return store.Definition{}, false
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}

// ProcessIssue is the processing core shared by the poll and push paths:
// claim the dedup record, generate the agent's response, post it back, and
// complete the record, with an audit entry on each side. On any failure the
// record is left in whatever state it reached; the next poll retries
// (at-least-once, no rollback).
func (p *Pipeline) ProcessIssue(ctx context.Context, inst *agent.Instance, repository string, issue github.Issue) error {
	if err := p.records.MarkProcessing(ctx, repository, issue.Number, inst.ID()); err != nil {
		p.logIssueAction(ctx, inst.ID(), repository, issue.Number, "error", err.Error())
		return fmt.Errorf("claim issue record: %w", err)
	}
	p.logIssueAction(ctx, inst.ID(), repository, issue.Number, "processing", "")

	response, err := inst.Generate(ctx, issue.Title, issue.Body)
	if err != nil {
		p.logIssueAction(ctx, inst.ID(), repository, issue.Number, "error", err.Error())
		p.publish(events.KindIngestError, repository, issue.Number, inst.Name())
		return fmt.Errorf("generate response: %w", err)
	}

	if err := p.tracker.CreateComment(ctx, repository, issue.Number, response); err != nil {
		p.logIssueAction(ctx, inst.ID(), repository, issue.Number, "error", err.Error())
		p.publish(events.KindIngestError, repository, issue.Number, inst.Name())
		return fmt.Errorf("post comment: %w", err)
	}

	if err := p.records.MarkCompleted(ctx, repository, issue.Number); err != nil {
		p.logIssueAction(ctx, inst.ID(), repository, issue.Number, "error", err.Error())
		return fmt.Errorf("complete issue record: %w", err)
	}

	result, _ := json.Marshal(map[string]string{"preview": truncate(response, resultPreviewBytes)})
	p.logIssueActionResult(ctx, inst.ID(), repository, issue.Number, "success", result)
	p.publish(events.KindIngestProcessed, repository, issue.Number, inst.Name())
	p.logger.Info("issue processed", "repository", repository, "issue", issue.Number, "agent", inst.Name())
	return nil
}

// logIssueAction appends a PROCESS_ISSUE audit entry, best-effort.
func (p *Pipeline) logIssueAction(ctx context.Context, agentID, repository string, issueNumber int, status, errMsg string) {
	details := map[string]any{"repository": repository, "issue": issueNumber}
	if errMsg != "" {
		details["error"] = errMsg
	}
	raw, _ := json.Marshal(details)

	err := p.logs.Append(ctx, store.ActionLogEntry{
		AgentID:         agentID,
		ActionType:      "PROCESS_ISSUE",
		Status:          status,
		Details:         raw,
		IssueRepository: repository,
		IssueNumber:     issueNumber,
	})
	if err != nil {
		p.logger.Error("failed to append action log", "agent_id", agentID, "error", err)
	}
}

func (p *Pipeline) logIssueActionResult(ctx context.Context, agentID, repository string, issueNumber int, status string, result json.RawMessage) {
	details, _ := json.Marshal(map[string]any{"repository": repository, "issue": issueNumber})
	err := p.logs.Append(ctx, store.ActionLogEntry{
		AgentID:         agentID,
		ActionType:      "PROCESS_ISSUE",
		Status:          status,
		Details:         details,
		Result:          result,
		IssueRepository: repository,
		IssueNumber:     issueNumber,
	})
	if err != nil {
		p.logger.Error("failed to append action log", "agent_id", agentID, "error", err)
	}
}

func (p *Pipeline) publish(kind events.Kind, repository string, issueNumber int, agentName string) {
	if p.hub == nil {
		return
	}
	p.hub.Publish(kind, map[string]any{
		"repository": repository,
		"issue":      issueNumber,
		"agent":      agentName,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

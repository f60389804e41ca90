package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/clarityxdr/orchestrator/internal/github"
	"github.com/clarityxdr/orchestrator/internal/store"
)

func TestPollerTickProcessesOpenIssues(t *testing.T) {
	def := securityDef()
	reg := loadedRegistry(t, def)
	records := newMemRecords()
	tracker := &fakeTracker{issues: map[string][]github.Issue{
		testRepo: {
			{Number: 1, Title: "New finding"},
			{Number: 2, Title: "Another finding"},
		},
	}}
	p := NewPipeline(reg, &staticLister{defs: []store.Definition{def}}, records, discardLogs{}, tracker, nil)
	poller := NewPoller(p, time.Minute, 0)

	poller.tick(context.Background())

	if records.status(testRepo, 1) != store.IssueCompleted {
		t.Errorf("issue 1 status = %q, want completed", records.status(testRepo, 1))
	}
	if records.status(testRepo, 2) != store.IssueCompleted {
		t.Errorf("issue 2 status = %q, want completed", records.status(testRepo, 2))
	}
	if tracker.commentCount() != 2 {
		t.Errorf("comments = %d, want 2", tracker.commentCount())
	}
}

func TestPollerTickSkipsCompletedIssues(t *testing.T) {
	def := securityDef()
	reg := loadedRegistry(t, def)
	records := newMemRecords()
	tracker := &fakeTracker{issues: map[string][]github.Issue{
		testRepo: {{Number: 1, Title: "Old finding"}},
	}}
	p := NewPipeline(reg, &staticLister{defs: []store.Definition{def}}, records, discardLogs{}, tracker, nil)
	poller := NewPoller(p, time.Minute, 0)

	// First sweep completes the issue, second must not touch it again.
	poller.tick(context.Background())
	poller.tick(context.Background())

	if tracker.commentCount() != 1 {
		t.Errorf("comments = %d, want 1 (completed issue reprocessed)", tracker.commentCount())
	}
}

func TestPollerTickRetriesProcessingIssues(t *testing.T) {
	def := securityDef()
	reg := loadedRegistry(t, def)
	records := newMemRecords()
	tracker := &fakeTracker{
		issues:  map[string][]github.Issue{testRepo: {{Number: 1, Title: "Finding"}}},
		postErr: errors.New("tracker unavailable"),
	}
	p := NewPipeline(reg, &staticLister{defs: []store.Definition{def}}, records, discardLogs{}, tracker, nil)
	poller := NewPoller(p, time.Minute, 0)

	poller.tick(context.Background())
	if records.status(testRepo, 1) != store.IssueProcessing {
		t.Fatalf("status after failure = %q, want processing", records.status(testRepo, 1))
	}

	// Tracker recovers; next sweep retries the stuck record.
	tracker.postErr = nil
	poller.tick(context.Background())
	if records.status(testRepo, 1) != store.IssueCompleted {
		t.Errorf("status after retry = %q, want completed", records.status(testRepo, 1))
	}
}

func TestPollerTickIsolatesAgentFailures(t *testing.T) {
	defA := store.Definition{ID: "a-1", Name: "A", Type: "CISO", Repository: "org/broken", IsActive: true}
	defB := store.Definition{ID: "b-1", Name: "B", Type: "CISO", Repository: "org/healthy", IsActive: true}
	reg := loadedRegistry(t, defA, defB)
	records := newMemRecords()

	tracker := &selectiveTracker{
		inner:      &fakeTracker{issues: map[string][]github.Issue{"org/healthy": {{Number: 1, Title: "ok"}}}},
		brokenRepo: "org/broken",
	}
	p := NewPipeline(reg, &staticLister{defs: []store.Definition{defA, defB}}, records, discardLogs{}, tracker, nil)
	poller := NewPoller(p, time.Minute, 0)

	poller.tick(context.Background())

	// The broken repository must not prevent the healthy one from processing.
	if records.status("org/healthy", 1) != store.IssueCompleted {
		t.Errorf("healthy repo status = %q, want completed", records.status("org/healthy", 1))
	}
}

func TestPollerSkipsAgentsWithoutRepository(t *testing.T) {
	def := store.Definition{ID: "c-1", Name: "Chat", Type: "CEO", IsActive: true}
	reg := loadedRegistry(t, def)
	tracker := &countingTracker{}
	p := NewPipeline(reg, &staticLister{defs: []store.Definition{def}}, newMemRecords(), discardLogs{}, tracker, nil)
	poller := NewPoller(p, time.Minute, 0)

	poller.tick(context.Background())
	if tracker.lists != 0 {
		t.Errorf("tracker queried %d times for repo-less agent", tracker.lists)
	}
}

type selectiveTracker struct {
	inner      *fakeTracker
	brokenRepo string
}

func (s *selectiveTracker) ListOpenIssues(ctx context.Context, repository string, labels []string) ([]github.Issue, error) {
	if repository == s.brokenRepo {
		return nil, errors.New("api rate limited")
	}
	return s.inner.ListOpenIssues(ctx, repository, labels)
}

func (s *selectiveTracker) CreateComment(ctx context.Context, repository string, issueNumber int, body string) error {
	return s.inner.CreateComment(ctx, repository, issueNumber, body)
}

type countingTracker struct {
	lists int
}

func (c *countingTracker) ListOpenIssues(context.Context, string, []string) ([]github.Issue, error) {
	c.lists++
	return nil, nil
}

func (c *countingTracker) CreateComment(context.Context, string, int, string) error {
	return nil
}

func TestNextDelayJitterBounds(t *testing.T) {
	p := NewPipeline(loadedRegistry(t), &staticLister{}, newMemRecords(), discardLogs{}, &fakeTracker{}, nil)

	tests := []struct {
		name     string
		interval time.Duration
		jitter   time.Duration
	}{
		{name: "no jitter", interval: time.Minute, jitter: 0},
		{name: "small jitter", interval: 5 * time.Minute, jitter: 30 * time.Second},
		{name: "large jitter", interval: time.Hour, jitter: 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poller := NewPoller(p, tt.interval, tt.jitter)
			for range 100 {
				delay := poller.nextDelay()
				if tt.jitter == 0 {
					assert.Equal(t, tt.interval, delay)
				} else {
					assert.GreaterOrEqual(t, delay, tt.interval)
					assert.Less(t, delay, tt.interval+tt.jitter)
				}
			}
		})
	}
}

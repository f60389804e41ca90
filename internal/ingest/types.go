package ingest

import "github.com/clarityxdr/orchestrator/internal/github"

// Outcome is the routing decision for one inbound event. "ignored" and
// "error" are expected, non-exceptional results the caller reports back to
// the sender; only "queued" means an agent took the event.
type Outcome struct {
	Status string `json:"status"`
	Agent  string `json:"agent,omitempty"`
	Issue  int    `json:"issue,omitempty"`
	Reason string `json:"reason,omitempty"`
	Event  string `json:"event,omitempty"`
	Error  string `json:"error,omitempty"`
}

const (
	OutcomeQueued  = "queued"
	OutcomeIgnored = "ignored"
	OutcomeError   = "error"
)

// Event categories delivered in the X-GitHub-Event header.
const (
	EventIssues       = "issues"
	EventIssueComment = "issue_comment"
)

// IssuesEvent is the payload for the "issues" category.
type IssuesEvent struct {
	Action     string        `json:"action"`
	Issue      github.Issue  `json:"issue"`
	Repository RepositoryRef `json:"repository"`
}

// IssueCommentEvent is the payload for the "issue_comment" category.
type IssueCommentEvent struct {
	Action     string        `json:"action"`
	Issue      github.Issue  `json:"issue"`
	Comment    Comment       `json:"comment"`
	Repository RepositoryRef `json:"repository"`
}

type Comment struct {
	Body string `json:"body"`
}

type RepositoryRef struct {
	FullName string `json:"full_name"`
}

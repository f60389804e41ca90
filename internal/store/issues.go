package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IssueStatus is the dedup record lifecycle. Records only ever move
// processing -> completed; a mention event may reset a completed record
// back to processing. Records are never deleted.
type IssueStatus string

const (
	IssueProcessing IssueStatus = "processing"
	IssueCompleted  IssueStatus = "completed"
)

// IssueRecord tracks one externally originated event, keyed by
// (repository, issue number).
type IssueRecord struct {
	Repository  string      `json:"repository"`
	IssueNumber int         `json:"issue_number"`
	Status      IssueStatus `json:"status"`
	AgentID     string      `json:"agent_id,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

var ErrIssueNotFound = errors.New("issue record not found")

// Issues persists dedup records for external events.
type Issues struct {
	db *sql.DB
}

func NewIssues(db *sql.DB) *Issues {
	return &Issues{db: db}
}

// Get returns the record for (repository, issueNumber), or ErrIssueNotFound.
func (s *Issues) Get(ctx context.Context, repository string, issueNumber int) (IssueRecord, error) {
	var (
		rec        IssueRecord
		statusS    string
		agentID    sql.NullString
		updatedAtS string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT repository, issue_number, status, agent_id, updated_at
FROM issue_records
WHERE repository = ? AND issue_number = ?;
`, repository, issueNumber).Scan(&rec.Repository, &rec.IssueNumber, &statusS, &agentID, &updatedAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return IssueRecord{}, ErrIssueNotFound
	}
	if err != nil {
		return IssueRecord{}, fmt.Errorf("read issue record: %w", err)
	}

	rec.Status = IssueStatus(statusS)
	if agentID.Valid {
		rec.AgentID = agentID.String
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAtS); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

// MarkProcessing creates the record in status processing, or resets an
// existing record (including a completed one) back to processing. The claim
// is attributed to agentID.
func (s *Issues) MarkProcessing(ctx context.Context, repository string, issueNumber int, agentID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO issue_records(repository, issue_number, status, agent_id, updated_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(repository, issue_number) DO UPDATE SET
  status = excluded.status,
  agent_id = excluded.agent_id,
  updated_at = excluded.updated_at;
`, repository, issueNumber, IssueProcessing, agentID, now)
	if err != nil {
		return fmt.Errorf("upsert issue record: %w", err)
	}
	return nil
}

// MarkCompleted moves an existing record to completed.
func (s *Issues) MarkCompleted(ctx context.Context, repository string, issueNumber int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
UPDATE issue_records
SET status = ?, updated_at = ?
WHERE repository = ? AND issue_number = ?;
`, IssueCompleted, now, repository, issueNumber)
	if err != nil {
		return fmt.Errorf("update issue record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrIssueNotFound
	}
	return nil
}

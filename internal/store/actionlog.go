package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionLogEntry is an immutable audit record. Entries are appended by agents
// and the ingestion pipeline and never updated or deleted.
type ActionLogEntry struct {
	ID              string          `json:"id"`
	AgentID         string          `json:"agent_id"`
	ActionType      string          `json:"action_type"`
	Status          string          `json:"status"`
	Details         json.RawMessage `json:"details,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	IssueRepository string          `json:"issue_repository,omitempty"`
	IssueNumber     int             `json:"issue_number,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ActionLogs appends and reads audit records.
type ActionLogs struct {
	db *sql.DB
}

func NewActionLogs(db *sql.DB) *ActionLogs {
	return &ActionLogs{db: db}
}

// Append writes one entry. ID and CreatedAt are assigned here.
func (s *ActionLogs) Append(ctx context.Context, entry ActionLogEntry) error {
	if entry.AgentID == "" {
		return fmt.Errorf("agent_id is empty")
	}
	if entry.ActionType == "" {
		return fmt.Errorf("action_type is empty")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	var details, result any
	if len(entry.Details) > 0 {
		details = string(entry.Details)
	}
	if len(entry.Result) > 0 {
		result = string(entry.Result)
	}
	var issueRepo, issueNum any
	if entry.IssueRepository != "" {
		issueRepo = entry.IssueRepository
		issueNum = entry.IssueNumber
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO action_logs(id, agent_id, action_type, status, details, result, issue_repository, issue_number, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), entry.AgentID, entry.ActionType, entry.Status, details, result, issueRepo, issueNum, now)
	if err != nil {
		return fmt.Errorf("insert action log: %w", err)
	}
	return nil
}

// ListByAgent returns the most recent entries for one agent, newest first.
func (s *ActionLogs) ListByAgent(ctx context.Context, agentID string, limit int) ([]ActionLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, agent_id, action_type, status, details, result, issue_repository, issue_number, created_at
FROM action_logs
WHERE agent_id = ?
ORDER BY created_at DESC
LIMIT ?;
`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query action logs: %w", err)
	}
	defer rows.Close()

	var entries []ActionLogEntry
	for rows.Next() {
		var (
			e          ActionLogEntry
			details    sql.NullString
			result     sql.NullString
			issueRepo  sql.NullString
			issueNum   sql.NullInt64
			createdAtS string
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.ActionType, &e.Status, &details, &result, &issueRepo, &issueNum, &createdAtS); err != nil {
			return nil, fmt.Errorf("scan action log: %w", err)
		}
		if details.Valid {
			e.Details = json.RawMessage(details.String)
		}
		if result.Valid {
			e.Result = json.RawMessage(result.String)
		}
		if issueRepo.Valid {
			e.IssueRepository = issueRepo.String
		}
		if issueNum.Valid {
			e.IssueNumber = int(issueNum.Int64)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action logs: %w", err)
	}
	return entries, nil
}

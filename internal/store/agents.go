package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Definition is a persisted agent definition. Definitions are created and
// edited through the administrative interface; the orchestrator loads them
// read-only.
type Definition struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Description  string          `json:"description"`
	Capabilities []string        `json:"capabilities"`
	Config       json.RawMessage `json:"config"`
	Repository   string          `json:"repository,omitempty"`
	Labels       []string        `json:"labels,omitempty"`
	Guidelines   string          `json:"guidelines,omitempty"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

var ErrAgentNotFound = errors.New("agent not found")

// Agents provides read access to agent definitions plus the activate /
// deactivate administrative toggles.
type Agents struct {
	db *sql.DB
}

func NewAgents(db *sql.DB) *Agents {
	return &Agents{db: db}
}

const agentColumns = `id, name, type, description, capabilities, config, repository, labels, guidelines, is_active, created_at, updated_at`

// ListActive returns all active agent definitions, ordered by type then name.
func (s *Agents) ListActive(ctx context.Context) ([]Definition, error) {
	return s.list(ctx, `
SELECT `+agentColumns+`
FROM agents
WHERE is_active = 1
ORDER BY type, name;
`)
}

// List returns all agent definitions regardless of active flag.
func (s *Agents) List(ctx context.Context) ([]Definition, error) {
	return s.list(ctx, `
SELECT `+agentColumns+`
FROM agents
ORDER BY type, name;
`)
}

func (s *Agents) list(ctx context.Context, query string) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return defs, nil
}

// Get returns one agent definition by id. Returns ErrAgentNotFound if absent.
func (s *Agents) Get(ctx context.Context, id string) (Definition, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+agentColumns+`
FROM agents
WHERE id = ?;
`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Definition{}, ErrAgentNotFound
	}
	if err != nil {
		return Definition{}, err
	}
	return def, nil
}

// SetActive flips the active flag and records the change in the action log,
// both inside one transaction.
func (s *Agents) SetActive(ctx context.Context, id string, active bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM agents WHERE id = ?);", id).Scan(&exists); err != nil {
		return fmt.Errorf("check agent exists: %w", err)
	}
	if !exists {
		return ErrAgentNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	flag := 0
	actionType := "DEACTIVATION"
	if active {
		flag = 1
		actionType = "ACTIVATION"
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE agents SET is_active = ?, updated_at = ? WHERE id = ?;
`, flag, now, id); err != nil {
		return fmt.Errorf("update agent active flag: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO action_logs(id, agent_id, action_type, status, details, created_at)
VALUES(?, ?, ?, 'success', '{"source": "api"}', ?);
`, uuid.NewString(), id, actionType, now); err != nil {
		return fmt.Errorf("insert action log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (Definition, error) {
	var (
		def          Definition
		capabilities string
		configRaw    string
		labels       string
		isActive     int
		createdAtS   string
		updatedAtS   string
	)
	err := row.Scan(
		&def.ID, &def.Name, &def.Type, &def.Description, &capabilities, &configRaw,
		&def.Repository, &labels, &def.Guidelines, &isActive, &createdAtS, &updatedAtS,
	)
	if err != nil {
		return Definition{}, err
	}

	if err := json.Unmarshal([]byte(capabilities), &def.Capabilities); err != nil {
		return Definition{}, fmt.Errorf("decode capabilities for agent %q: %w", def.ID, err)
	}
	if err := json.Unmarshal([]byte(labels), &def.Labels); err != nil {
		return Definition{}, fmt.Errorf("decode labels for agent %q: %w", def.ID, err)
	}
	if !json.Valid([]byte(configRaw)) {
		return Definition{}, fmt.Errorf("stored config is invalid JSON for agent %q", def.ID)
	}
	def.Config = json.RawMessage(configRaw)
	def.IsActive = isActive != 0

	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		def.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAtS); err == nil {
		def.UpdatedAt = t
	}
	return def, nil
}

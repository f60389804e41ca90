package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RelationshipEnd identifies one side of a relationship edge, denormalized
// with the agent's name and type so the graph renders without extra lookups.
type RelationshipEnd struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Relationship is one directed edge in the agent relationship graph
// (reports_to, collaborates_with, escalates_to and the like).
type Relationship struct {
	ID       string          `json:"id"`
	Source   RelationshipEnd `json:"source"`
	Target   RelationshipEnd `json:"target"`
	Type     string          `json:"relationship_type"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Relationships reads the agent relationship graph. Edges are authored
// through the administrative interface; the orchestrator serves them
// read-only, like agent definitions.
type Relationships struct {
	db *sql.DB
}

func NewRelationships(db *sql.DB) *Relationships {
	return &Relationships{db: db}
}

// List returns every edge with both endpoints resolved to name and type.
// Edges pointing at a deleted agent are excluded by the joins.
func (s *Relationships) List(ctx context.Context) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.id,
       r.source_agent_id, sa.name, sa.type,
       r.target_agent_id, ta.name, ta.type,
       r.relationship_type, r.metadata
FROM agent_relationships r
JOIN agents sa ON r.source_agent_id = sa.id
JOIN agents ta ON r.target_agent_id = ta.id
ORDER BY r.created_at, r.id;
`)
	if err != nil {
		return nil, fmt.Errorf("query relationships: %w", err)
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		var rel Relationship
		var metadata string
		if err := rows.Scan(
			&rel.ID,
			&rel.Source.ID, &rel.Source.Name, &rel.Source.Type,
			&rel.Target.ID, &rel.Target.Name, &rel.Target.Type,
			&rel.Type, &metadata,
		); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rel.Metadata = json.RawMessage(metadata)
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return rels, nil
}

// Add inserts one edge. ID and created_at are assigned here.
func (s *Relationships) Add(ctx context.Context, sourceID, targetID, relType string, metadata json.RawMessage) (string, error) {
	if sourceID == "" || targetID == "" {
		return "", fmt.Errorf("source and target agent ids are required")
	}
	if relType == "" {
		return "", fmt.Errorf("relationship_type is empty")
	}

	id := uuid.NewString()
	meta := "{}"
	if len(metadata) > 0 {
		meta = string(metadata)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO agent_relationships (id, source_agent_id, target_agent_id, relationship_type, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?);
`, id, sourceID, targetID, relType, meta, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("insert relationship: %w", err)
	}
	return id, nil
}

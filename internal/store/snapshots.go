// ABOUTME: Category snapshot store methods with latest-wins upsert semantics
// ABOUTME: At most one row exists per (agent_id, category); replays refresh, never append

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertSnapshot stores the latest payload for (agent_id, category),
// overwriting any previous row. The single-statement upsert keeps
// concurrent retries from producing duplicate rows.
func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap *Snapshot) error {
	query := `
		INSERT INTO snapshots (agent_id, category, timestamp, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id, category) DO UPDATE SET
			timestamp = excluded.timestamp,
			data      = excluded.data
	`

	_, err := s.db.ExecContext(ctx, query,
		snap.AgentID,
		snap.Category,
		snap.Timestamp.UTC().Format(time.RFC3339Nano),
		string(snap.Data),
	)
	if err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}

	s.logger.Debug("snapshot upserted", "agent_id", snap.AgentID, "category", snap.Category)
	return nil
}

// GetSnapshot retrieves the latest snapshot for an agent in one category.
// Returns ErrNotFound if the agent never reported that category.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, agentID, category string) (*Snapshot, error) {
	query := `
		SELECT agent_id, category, timestamp, data
		FROM snapshots
		WHERE agent_id = ? AND category = ?
	`

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, agentID, category))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot: %w", err)
	}

	return snap, nil
}

// ListSnapshots returns the latest snapshot of every agent for one category.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, category string) ([]*Snapshot, error) {
	query := `
		SELECT agent_id, category, timestamp, data
		FROM snapshots
		WHERE category = ?
		ORDER BY agent_id
	`

	rows, err := s.db.QueryContext(ctx, query, category)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}

	return snaps, rows.Err()
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var timestamp, data string
	if err := row.Scan(&snap.AgentID, &snap.Category, &timestamp, &data); err != nil {
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	snap.Timestamp = ts
	snap.Data = json.RawMessage(data)

	return &snap, nil
}

// ABOUTME: Agent registry store methods for tracking known telemetry agents
// ABOUTME: Agents are upserted on every inbound payload and never auto-deleted

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertAgent registers a new agent or refreshes an existing one.
// The write is a single atomic statement so concurrent retries for the
// same agent converge on one row.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *Agent) error {
	query := `
		INSERT INTO agents (agent_id, source_addr, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			source_addr = excluded.source_addr,
			last_seen   = excluded.last_seen
	`

	sourceAddr := agent.SourceAddr
	if sourceAddr == "" {
		sourceAddr = "unknown"
	}

	_, err := s.db.ExecContext(ctx, query,
		agent.AgentID,
		sourceAddr,
		agent.LastSeen.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}

	s.logger.Debug("agent upserted", "agent_id", agent.AgentID, "source_addr", sourceAddr)
	return nil
}

// GetAgent retrieves a single agent by ID.
// Returns ErrNotFound if the agent has never reported.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	query := `SELECT agent_id, source_addr, last_seen FROM agents WHERE agent_id = ?`

	var agent Agent
	var lastSeen string
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&agent.AgentID, &agent.SourceAddr, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent: %w", err)
	}

	agent.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}

	return &agent, nil
}

// ListAgents returns every agent that has ever reported, most recent first.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	query := `SELECT agent_id, source_addr, last_seen FROM agents ORDER BY last_seen DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var agent Agent
		var lastSeen string
		if err := rows.Scan(&agent.AgentID, &agent.SourceAddr, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agent.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		agents = append(agents, &agent)
	}

	return agents, rows.Err()
}

// ABOUTME: Tests for SQLite store initialization and snapshot/agent upserts
// ABOUTME: Covers schema creation, idempotent replay, and latest-wins semantics

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates an in-memory store for tests.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestUpsertAgent_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		err := s.UpsertAgent(ctx, &Agent{
			AgentID:    "agent-001",
			SourceAddr: "10.0.0.5",
			LastSeen:   first.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1, "replayed upserts must not create duplicate rows")
	assert.Equal(t, "agent-001", agents[0].AgentID)
	assert.Equal(t, "10.0.0.5", agents[0].SourceAddr)

	// last_seen advanced to the final write
	assert.WithinDuration(t, first.Add(2*time.Second), agents[0].LastSeen, time.Millisecond)
}

func TestUpsertAgent_DefaultSourceAddr(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAgent(ctx, &Agent{AgentID: "agent-002", LastSeen: time.Now()}))

	agent, err := s.GetAgent(ctx, "agent-002")
	require.NoError(t, err)
	assert.Equal(t, "unknown", agent.SourceAddr)
}

func TestGetAgent_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetAgent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertSnapshot_LatestWins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	t1 := time.Now().Add(-time.Minute)
	t2 := t1.Add(30 * time.Second)

	require.NoError(t, s.UpsertSnapshot(ctx, &Snapshot{
		AgentID:   "agent-001",
		Category:  "system_info",
		Timestamp: t1,
		Data:      json.RawMessage(`{"hostname":"old"}`),
	}))
	require.NoError(t, s.UpsertSnapshot(ctx, &Snapshot{
		AgentID:   "agent-001",
		Category:  "system_info",
		Timestamp: t2,
		Data:      json.RawMessage(`{"hostname":"new"}`),
	}))

	snap, err := s.GetSnapshot(ctx, "agent-001", "system_info")
	require.NoError(t, err)
	assert.JSONEq(t, `{"hostname":"new"}`, string(snap.Data))
	assert.WithinDuration(t, t2, snap.Timestamp, time.Millisecond)

	snaps, err := s.ListSnapshots(ctx, "system_info")
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "older snapshot must be overwritten, not appended")
}

func TestUpsertSnapshot_CategoriesIndependent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for _, category := range []string{"system_info", "installed_apps", "port_scan", "task_info"} {
		require.NoError(t, s.UpsertSnapshot(ctx, &Snapshot{
			AgentID:   "agent-001",
			Category:  category,
			Timestamp: now,
			Data:      json.RawMessage(`{}`),
		}))
	}

	for _, category := range []string{"system_info", "installed_apps", "port_scan", "task_info"} {
		snap, err := s.GetSnapshot(ctx, "agent-001", category)
		require.NoError(t, err)
		assert.Equal(t, category, snap.Category)
	}
}

func TestGetSnapshot_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetSnapshot(context.Background(), "agent-001", "system_info")
	assert.ErrorIs(t, err, ErrNotFound)
}

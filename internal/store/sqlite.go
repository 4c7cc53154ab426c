// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides snapshot/agent/USB/passive-scan persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// Every table carries a uniqueness constraint matching its logical upsert
// key so that writes can be atomic INSERT ... ON CONFLICT statements.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			agent_id    TEXT PRIMARY KEY,
			source_addr TEXT NOT NULL DEFAULT 'unknown',
			last_seen   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS snapshots (
			agent_id  TEXT NOT NULL,
			category  TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			data      TEXT NOT NULL,

			PRIMARY KEY (agent_id, category)
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_category
			ON snapshots(category);

		CREATE TABLE IF NOT EXISTS usb_devices (
			agent_id      TEXT NOT NULL,
			serial_number TEXT NOT NULL,
			vendor_id     TEXT NOT NULL DEFAULT '',
			product_id    TEXT NOT NULL DEFAULT '',
			description   TEXT NOT NULL DEFAULT '',
			drive_letter  TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'WaitingForApproval',
			first_seen    TEXT NOT NULL,
			last_seen     TEXT NOT NULL,

			PRIMARY KEY (agent_id, serial_number),
			CHECK (status IN ('Allowed', 'Blocked', 'WaitingForApproval'))
		);

		CREATE INDEX IF NOT EXISTS idx_usb_devices_agent
			ON usb_devices(agent_id);

		CREATE TABLE IF NOT EXISTS passive_scan (
			ip         TEXT PRIMARY KEY,
			mac        TEXT NOT NULL DEFAULT '',
			vendor     TEXT NOT NULL DEFAULT 'Unknown',
			hostname   TEXT NOT NULL DEFAULT 'Unknown',
			no_agent   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

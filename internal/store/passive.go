// ABOUTME: Passive scan record store methods keyed by observed IP address
// ABOUTME: Newer observations supersede older ones for the same IP

package store

import (
	"context"
	"fmt"
	"time"
)

// UpsertPassiveScan stores one passive scanner observation. The table is
// keyed by IP, so re-observing an address replaces the earlier record.
// An older observation arriving late never clobbers a newer one.
func (s *SQLiteStore) UpsertPassiveScan(ctx context.Context, scan *PassiveScan) error {
	query := `
		INSERT INTO passive_scan (ip, mac, vendor, hostname, no_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ip) DO UPDATE SET
			mac        = excluded.mac,
			vendor     = excluded.vendor,
			hostname   = excluded.hostname,
			no_agent   = excluded.no_agent,
			created_at = excluded.created_at
		WHERE excluded.created_at >= passive_scan.created_at
	`

	vendor := scan.Vendor
	if vendor == "" {
		vendor = "Unknown"
	}
	hostname := scan.Hostname
	if hostname == "" {
		hostname = "Unknown"
	}
	createdAt := scan.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		scan.IP,
		scan.MAC,
		vendor,
		hostname,
		boolToInt(scan.NoAgent),
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting passive scan: %w", err)
	}

	s.logger.Debug("passive scan upserted", "ip", scan.IP, "no_agent", scan.NoAgent)
	return nil
}

// ListPassiveScans returns all passive scan records in insertion order.
func (s *SQLiteStore) ListPassiveScans(ctx context.Context) ([]*PassiveScan, error) {
	query := `
		SELECT ip, mac, vendor, hostname, no_agent, created_at
		FROM passive_scan
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing passive scans: %w", err)
	}
	defer rows.Close()

	var scans []*PassiveScan
	for rows.Next() {
		var scan PassiveScan
		var noAgent int
		var createdAt string
		if err := rows.Scan(&scan.IP, &scan.MAC, &scan.Vendor, &scan.Hostname, &noAgent, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning passive scan: %w", err)
		}
		scan.NoAgent = noAgent != 0
		scan.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		scans = append(scans, &scan)
	}

	return scans, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

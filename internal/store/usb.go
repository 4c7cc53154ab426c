// ABOUTME: USB device record store methods for the per-agent approval workflow
// ABOUTME: Sightings refresh descriptors and last_seen; status is operator-owned

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertUSBDevice records a sighting of a USB device. A serial number never
// seen for this agent is created with status WaitingForApproval; an existing
// record keeps its status and only refreshes descriptors and last_seen.
// Returns the authoritative status after the write.
func (s *SQLiteStore) UpsertUSBDevice(ctx context.Context, dev *USBDevice) (USBStatus, error) {
	// Status is deliberately absent from the DO UPDATE set: agents can
	// never change an operator decision by re-reporting.
	query := `
		INSERT INTO usb_devices
			(agent_id, serial_number, vendor_id, product_id, description, drive_letter, status, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, serial_number) DO UPDATE SET
			vendor_id    = excluded.vendor_id,
			product_id   = excluded.product_id,
			description  = excluded.description,
			drive_letter = excluded.drive_letter,
			last_seen    = excluded.last_seen
		RETURNING status
	`

	seen := dev.LastSeen
	if seen.IsZero() {
		seen = time.Now()
	}
	seenStr := seen.UTC().Format(time.RFC3339Nano)

	var status USBStatus
	err := s.db.QueryRowContext(ctx, query,
		dev.AgentID,
		dev.SerialNumber,
		dev.VendorID,
		dev.ProductID,
		dev.Description,
		dev.DriveLetter,
		string(USBStatusWaitingForApproval),
		seenStr,
		seenStr,
	).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("upserting usb device: %w", err)
	}

	s.logger.Debug("usb device upserted",
		"agent_id", dev.AgentID,
		"serial_number", dev.SerialNumber,
		"status", status,
	)
	return status, nil
}

// GetUSBDevice retrieves one device record by (agent_id, serial_number).
func (s *SQLiteStore) GetUSBDevice(ctx context.Context, agentID, serialNumber string) (*USBDevice, error) {
	query := `
		SELECT agent_id, serial_number, vendor_id, product_id, description, drive_letter, status, first_seen, last_seen
		FROM usb_devices
		WHERE agent_id = ? AND serial_number = ?
	`

	dev, err := scanUSBDevice(s.db.QueryRowContext(ctx, query, agentID, serialNumber))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting usb device: %w", err)
	}

	return dev, nil
}

// ListUSBDevices returns device records for one agent, or for all agents
// when agentID is empty.
func (s *SQLiteStore) ListUSBDevices(ctx context.Context, agentID string) ([]*USBDevice, error) {
	query := `
		SELECT agent_id, serial_number, vendor_id, product_id, description, drive_letter, status, first_seen, last_seen
		FROM usb_devices
	`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY agent_id, serial_number`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing usb devices: %w", err)
	}
	defer rows.Close()

	var devices []*USBDevice
	for rows.Next() {
		dev, err := scanUSBDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning usb device: %w", err)
		}
		devices = append(devices, dev)
	}

	return devices, rows.Err()
}

// SetUSBStatus applies an operator decision to one device record.
// Returns ErrAgentNotFound if the agent has no device records at all,
// ErrDeviceNotFound if the serial number was never reported by that agent.
func (s *SQLiteStore) SetUSBStatus(ctx context.Context, agentID, serialNumber string, status USBStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid usb status %q", status)
	}

	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usb_devices WHERE agent_id = ?`, agentID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking agent devices: %w", err)
	}
	if exists == 0 {
		return ErrAgentNotFound
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE usb_devices SET status = ? WHERE agent_id = ? AND serial_number = ?`,
		string(status), agentID, serialNumber,
	)
	if err != nil {
		return fmt.Errorf("updating usb status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}

	s.logger.Info("usb status updated",
		"agent_id", agentID,
		"serial_number", serialNumber,
		"status", status,
	)
	return nil
}

func scanUSBDevice(row rowScanner) (*USBDevice, error) {
	var dev USBDevice
	var status, firstSeen, lastSeen string
	err := row.Scan(
		&dev.AgentID,
		&dev.SerialNumber,
		&dev.VendorID,
		&dev.ProductID,
		&dev.Description,
		&dev.DriveLetter,
		&status,
		&firstSeen,
		&lastSeen,
	)
	if err != nil {
		return nil, err
	}

	dev.Status = USBStatus(status)
	if dev.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return nil, fmt.Errorf("parsing first_seen: %w", err)
	}
	if dev.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}

	return &dev, nil
}

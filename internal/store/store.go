// ABOUTME: Store interface and data types for fleetgate persistence
// ABOUTME: Defines Agent, Snapshot, USBDevice, PassiveScan structs and the Store interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrAgentNotFound is returned when no device records exist for the given agent
var ErrAgentNotFound = errors.New("agent not found")

// ErrDeviceNotFound is returned when the agent exists but the serial number was never reported
var ErrDeviceNotFound = errors.New("device not found")

// Agent represents a registered telemetry agent. Agents are upserted on every
// inbound payload and never deleted automatically.
type Agent struct {
	AgentID    string
	SourceAddr string
	LastSeen   time.Time
}

// Snapshot is the latest payload an agent reported for one telemetry category.
// At most one row exists per (agent_id, category); writes are latest-wins.
type Snapshot struct {
	AgentID   string
	Category  string
	Timestamp time.Time
	Data      json.RawMessage
}

// USBStatus is the operator-controlled approval state of a USB device.
type USBStatus string

// USB approval states. WaitingForApproval is the initial state for every
// newly sighted serial number; only operator action moves it.
const (
	USBStatusAllowed            USBStatus = "Allowed"
	USBStatusBlocked            USBStatus = "Blocked"
	USBStatusWaitingForApproval USBStatus = "WaitingForApproval"
)

// Valid reports whether s is one of the three known approval states.
func (s USBStatus) Valid() bool {
	switch s {
	case USBStatusAllowed, USBStatusBlocked, USBStatusWaitingForApproval:
		return true
	}
	return false
}

// USBDevice is a per-agent record of a sighted USB device. The serial number
// is unique within an agent's scope, not globally.
type USBDevice struct {
	AgentID      string
	SerialNumber string
	VendorID     string
	ProductID    string
	Description  string
	DriveLetter  string
	Status       USBStatus
	FirstSeen    time.Time
	LastSeen     time.Time
}

// PassiveScan is one passively discovered device, keyed by IP. Newer
// observations for the same IP supersede older ones.
type PassiveScan struct {
	IP        string
	MAC       string
	Vendor    string
	Hostname  string
	NoAgent   bool
	CreatedAt time.Time
}

// Store defines the interface for fleetgate persistence.
type Store interface {
	// Agents
	UpsertAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, agentID string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)

	// Category snapshots (system_info, installed_apps, port_scan, task_info)
	UpsertSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, agentID, category string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, category string) ([]*Snapshot, error)

	// USB devices
	UpsertUSBDevice(ctx context.Context, dev *USBDevice) (USBStatus, error)
	GetUSBDevice(ctx context.Context, agentID, serialNumber string) (*USBDevice, error)
	ListUSBDevices(ctx context.Context, agentID string) ([]*USBDevice, error)
	SetUSBStatus(ctx context.Context, agentID, serialNumber string, status USBStatus) error

	// Passive scans
	UpsertPassiveScan(ctx context.Context, scan *PassiveScan) error
	ListPassiveScans(ctx context.Context) ([]*PassiveScan, error)

	Close() error
}

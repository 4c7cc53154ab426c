// ABOUTME: USB approval reconciler answering agents with authoritative per-device statuses
// ABOUTME: New serials start WaitingForApproval; only operator action changes a status

package usb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/perimeterlab/fleetgate/internal/store"
)

// ConnectedDevice describes one currently-connected USB device as reported
// by an agent. Only the serial number is required.
type ConnectedDevice struct {
	SerialNumber string `json:"serial_number"`
	DriveLetter  string `json:"drive_letter,omitempty"`
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Verdict is the authoritative status for one reported device, returned
// synchronously so the agent can enforce access control locally.
type Verdict struct {
	SerialNumber string          `json:"serial_number"`
	Status       store.USBStatus `json:"status"`
}

// Reconciler owns the per-agent, per-serial approval state machine.
type Reconciler struct {
	store  store.Store
	logger *slog.Logger
}

// NewReconciler creates a Reconciler backed by the given store.
func NewReconciler(st store.Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  st,
		logger: logger.With("component", "usb"),
	}
}

// EvaluateConnected records a sighting of every reported device and returns
// its current status. Devices never seen before are created with
// WaitingForApproval; existing records only refresh last_seen and
// descriptors. The call never waits on an operator decision: unresolved
// devices come back WaitingForApproval immediately and the agent is
// expected to re-report, not block.
func (r *Reconciler) EvaluateConnected(ctx context.Context, agentID string, devices []ConnectedDevice) ([]Verdict, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agentId is required")
	}

	now := time.Now()
	verdicts := make([]Verdict, 0, len(devices))
	for _, dev := range devices {
		if dev.SerialNumber == "" {
			r.logger.Warn("skipping device without serial number", "agent_id", agentID)
			continue
		}

		status, err := r.store.UpsertUSBDevice(ctx, &store.USBDevice{
			AgentID:      agentID,
			SerialNumber: dev.SerialNumber,
			VendorID:     dev.VendorID,
			ProductID:    dev.ProductID,
			Description:  dev.Description,
			DriveLetter:  dev.DriveLetter,
			LastSeen:     now,
		})
		if err != nil {
			return nil, fmt.Errorf("recording device %s for agent %s: %w", dev.SerialNumber, agentID, err)
		}

		verdicts = append(verdicts, Verdict{
			SerialNumber: dev.SerialNumber,
			Status:       status,
		})
	}

	r.logger.Info("evaluated connected devices",
		"agent_id", agentID,
		"devices", len(verdicts),
	)
	return verdicts, nil
}

// SetStatus applies an operator decision to one device record.
// Returns store.ErrAgentNotFound if the agent has no device records,
// store.ErrDeviceNotFound if that serial was never reported by the agent.
// The decision takes effect the next time the agent reports the device;
// nothing is pushed retroactively.
func (r *Reconciler) SetStatus(ctx context.Context, agentID, serialNumber string, status store.USBStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q: must be one of Allowed, Blocked, WaitingForApproval", status)
	}
	return r.store.SetUSBStatus(ctx, agentID, serialNumber, status)
}

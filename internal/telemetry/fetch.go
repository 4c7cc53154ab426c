// ABOUTME: Read path for telemetry data, serving agent and dashboard fetch requests
// ABOUTME: task_info fetches join the latest system_info row for device context

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/perimeterlab/fleetgate/internal/store"
)

// FetchRequest asks for the latest stored data of one type. An empty
// AgentID means "all agents".
type FetchRequest struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId,omitempty"`
}

// FetchResult is the reply shape for fetch requests. Failures are carried
// in the result, never as a transport error: a failed fetch must not
// terminate the channel it arrived on.
type FetchResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Error   string `json:"error,omitempty"`
}

// SnapshotRecord is the wire shape of one category snapshot.
type SnapshotRecord struct {
	AgentID   string          `json:"agentId"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// AgentRecord is the wire shape of one agent registry entry.
type AgentRecord struct {
	AgentID    string    `json:"agentId"`
	SourceAddr string    `json:"ip"`
	LastSeen   time.Time `json:"lastSeen"`
}

// USBRecord is the wire shape of one USB device record.
type USBRecord struct {
	AgentID      string    `json:"agentId"`
	SerialNumber string    `json:"serial_number"`
	VendorID     string    `json:"vendor_id,omitempty"`
	ProductID    string    `json:"product_id,omitempty"`
	Description  string    `json:"description,omitempty"`
	DriveLetter  string    `json:"drive_letter,omitempty"`
	Status       string    `json:"status"`
	LastSeen     time.Time `json:"last_seen"`
}

// PassiveScanRecord is the wire shape of one passive scan observation.
type PassiveScanRecord struct {
	IP        string    `json:"ip"`
	MAC       string    `json:"mac"`
	Vendor    string    `json:"vendor"`
	Hostname  string    `json:"hostname"`
	NoAgent   bool      `json:"noAgent"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeviceContext is the system_info join attached to task_info fetches.
type DeviceContext struct {
	Hostname  string `json:"hostname"`
	OSType    string `json:"os_type"`
	OSVersion string `json:"os_version"`
}

// TaskInfoRecord is a task_info snapshot enriched with device context.
// Device is null when the agent never reported system_info; that is not
// an error.
type TaskInfoRecord struct {
	AgentID   string          `json:"agentId"`
	Device    *DeviceContext  `json:"device"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Fetch resolves a read request against the store. All failures are folded
// into the result payload.
func (r *Router) Fetch(ctx context.Context, req *FetchRequest) *FetchResult {
	result, err := r.fetch(ctx, req)
	if err != nil {
		r.logger.Error("fetch failed", "type", req.Type, "agent_id", req.AgentID, "error", err)
		return &FetchResult{
			Success: false,
			Message: "failed to fetch data",
			Error:   err.Error(),
			Data:    []any{},
		}
	}
	return result
}

func (r *Router) fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	switch req.Type {
	case "agents":
		return r.fetchAgents(ctx)
	case "usb_devices":
		return r.fetchUSBDevices(ctx, req.AgentID)
	case "passive_scan":
		return r.fetchPassiveScans(ctx)
	}

	category, err := ParseCategory(req.Type)
	if err != nil || !category.Storable() {
		return &FetchResult{
			Success: false,
			Message: fmt.Sprintf("invalid data type %q", req.Type),
			Data:    []any{},
		}, nil
	}

	if req.AgentID == "" {
		return r.fetchAllSnapshots(ctx, category)
	}
	return r.fetchAgentSnapshot(ctx, category, req.AgentID)
}

func (r *Router) fetchAgents(ctx context.Context) (*FetchResult, error) {
	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	records := make([]AgentRecord, 0, len(agents))
	for _, a := range agents {
		records = append(records, AgentRecord{
			AgentID:    a.AgentID,
			SourceAddr: a.SourceAddr,
			LastSeen:   a.LastSeen,
		})
	}

	return &FetchResult{
		Success: true,
		Message: "agents fetched successfully",
		Data:    records,
	}, nil
}

func (r *Router) fetchUSBDevices(ctx context.Context, agentID string) (*FetchResult, error) {
	devices, err := r.store.ListUSBDevices(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing usb devices: %w", err)
	}

	if agentID != "" && len(devices) == 0 {
		return &FetchResult{
			Success: false,
			Message: fmt.Sprintf("no usb_devices data found for agent %s", agentID),
			Data:    []any{},
		}, nil
	}

	records := make([]USBRecord, 0, len(devices))
	for _, d := range devices {
		records = append(records, usbRecord(d))
	}

	return &FetchResult{
		Success: true,
		Message: "usb_devices data fetched successfully",
		Data:    records,
	}, nil
}

func (r *Router) fetchPassiveScans(ctx context.Context) (*FetchResult, error) {
	scans, err := r.store.ListPassiveScans(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing passive scans: %w", err)
	}

	records := make([]PassiveScanRecord, 0, len(scans))
	for _, s := range scans {
		records = append(records, PassiveScanRecord{
			IP:        s.IP,
			MAC:       s.MAC,
			Vendor:    s.Vendor,
			Hostname:  s.Hostname,
			NoAgent:   s.NoAgent,
			CreatedAt: s.CreatedAt,
		})
	}

	return &FetchResult{
		Success: true,
		Message: "passive_scan data fetched successfully",
		Data:    records,
	}, nil
}

func (r *Router) fetchAllSnapshots(ctx context.Context, category Category) (*FetchResult, error) {
	snaps, err := r.store.ListSnapshots(ctx, category.String())
	if err != nil {
		return nil, fmt.Errorf("listing %s snapshots: %w", category, err)
	}

	records := make([]SnapshotRecord, 0, len(snaps))
	for _, s := range snaps {
		records = append(records, snapshotRecord(s))
	}

	return &FetchResult{
		Success: true,
		Message: fmt.Sprintf("%s data fetched successfully", category),
		Data:    records,
	}, nil
}

func (r *Router) fetchAgentSnapshot(ctx context.Context, category Category, agentID string) (*FetchResult, error) {
	snap, err := r.store.GetSnapshot(ctx, agentID, category.String())
	if errors.Is(err, store.ErrNotFound) {
		return &FetchResult{
			Success: false,
			Message: fmt.Sprintf("no %s data found for agent %s", category, agentID),
			Data:    []any{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s snapshot: %w", category, err)
	}

	if category == CategoryTaskInfo {
		record, err := r.enrichTaskInfo(ctx, snap)
		if err != nil {
			return nil, err
		}
		return &FetchResult{
			Success: true,
			Message: "task_info data fetched successfully",
			Data:    []TaskInfoRecord{*record},
		}, nil
	}

	return &FetchResult{
		Success: true,
		Message: fmt.Sprintf("%s data fetched successfully", category),
		Data:    []SnapshotRecord{snapshotRecord(snap)},
	}, nil
}

// enrichTaskInfo joins the agent's latest system_info snapshot onto a
// task_info row. A missing system_info row yields a null device, not an
// error.
func (r *Router) enrichTaskInfo(ctx context.Context, snap *store.Snapshot) (*TaskInfoRecord, error) {
	record := &TaskInfoRecord{
		AgentID:   snap.AgentID,
		Data:      snap.Data,
		Timestamp: snap.Timestamp,
	}

	sysSnap, err := r.store.GetSnapshot(ctx, snap.AgentID, CategorySystemInfo.String())
	if errors.Is(err, store.ErrNotFound) {
		return record, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting system_info for join: %w", err)
	}

	var body struct {
		Hostname  string `json:"hostname"`
		OSType    string `json:"os_type"`
		OSVersion string `json:"os_version"`
	}
	if err := json.Unmarshal(sysSnap.Data, &body); err != nil {
		r.logger.Warn("malformed system_info body during task_info join",
			"agent_id", snap.AgentID, "error", err)
		return record, nil
	}

	record.Device = &DeviceContext{
		Hostname:  body.Hostname,
		OSType:    body.OSType,
		OSVersion: body.OSVersion,
	}
	return record, nil
}

func snapshotRecord(s *store.Snapshot) SnapshotRecord {
	return SnapshotRecord{
		AgentID:   s.AgentID,
		Type:      s.Category,
		Timestamp: s.Timestamp,
		Data:      s.Data,
	}
}

func usbRecord(d *store.USBDevice) USBRecord {
	return USBRecord{
		AgentID:      d.AgentID,
		SerialNumber: d.SerialNumber,
		VendorID:     d.VendorID,
		ProductID:    d.ProductID,
		Description:  d.Description,
		DriveLetter:  d.DriveLetter,
		Status:       string(d.Status),
		LastSeen:     d.LastSeen,
	}
}

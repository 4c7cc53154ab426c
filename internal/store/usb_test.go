// ABOUTME: Tests for USB device record persistence and the approval workflow
// ABOUTME: Covers default status, operator decisions, and sighting refresh semantics

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertUSBDevice_DefaultStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	status, err := s.UpsertUSBDevice(ctx, &USBDevice{
		AgentID:      "agent-001",
		SerialNumber: "ABC123",
		Description:  "SanDisk Cruzer",
	})
	require.NoError(t, err)
	assert.Equal(t, USBStatusWaitingForApproval, status)
}

func TestUpsertUSBDevice_RepeatDoesNotChangeStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	dev := &USBDevice{AgentID: "agent-001", SerialNumber: "ABC123"}

	first, err := s.UpsertUSBDevice(ctx, dev)
	require.NoError(t, err)
	second, err := s.UpsertUSBDevice(ctx, dev)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, USBStatusWaitingForApproval, second)

	devices, err := s.ListUSBDevices(ctx, "agent-001")
	require.NoError(t, err)
	assert.Len(t, devices, 1, "repeat sighting must not create a second record")
}

func TestUpsertUSBDevice_RefreshesDescriptorsAndLastSeen(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	t1 := time.Now().Add(-time.Minute)
	_, err := s.UpsertUSBDevice(ctx, &USBDevice{
		AgentID:      "agent-001",
		SerialNumber: "ABC123",
		DriveLetter:  "E:",
		LastSeen:     t1,
	})
	require.NoError(t, err)

	t2 := t1.Add(30 * time.Second)
	_, err = s.UpsertUSBDevice(ctx, &USBDevice{
		AgentID:      "agent-001",
		SerialNumber: "ABC123",
		DriveLetter:  "F:",
		LastSeen:     t2,
	})
	require.NoError(t, err)

	dev, err := s.GetUSBDevice(ctx, "agent-001", "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "F:", dev.DriveLetter)
	assert.WithinDuration(t, t2, dev.LastSeen, time.Millisecond)
	assert.WithinDuration(t, t1, dev.FirstSeen, time.Millisecond, "first_seen must not move on re-sighting")
}

func TestSetUSBStatus_PersistsDecision(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertUSBDevice(ctx, &USBDevice{AgentID: "agent-001", SerialNumber: "ABC123"})
	require.NoError(t, err)

	require.NoError(t, s.SetUSBStatus(ctx, "agent-001", "ABC123", USBStatusBlocked))

	// The agent re-reporting the device must see the operator decision.
	status, err := s.UpsertUSBDevice(ctx, &USBDevice{AgentID: "agent-001", SerialNumber: "ABC123"})
	require.NoError(t, err)
	assert.Equal(t, USBStatusBlocked, status)
}

func TestSetUSBStatus_AgentNotFound(t *testing.T) {
	s := setupTestStore(t)

	err := s.SetUSBStatus(context.Background(), "nobody", "ABC123", USBStatusAllowed)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestSetUSBStatus_DeviceNotFound(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertUSBDevice(ctx, &USBDevice{AgentID: "agent-001", SerialNumber: "ABC123"})
	require.NoError(t, err)

	err = s.SetUSBStatus(ctx, "agent-001", "XYZ999", USBStatusAllowed)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestSetUSBStatus_InvalidStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertUSBDevice(ctx, &USBDevice{AgentID: "agent-001", SerialNumber: "ABC123"})
	require.NoError(t, err)

	err = s.SetUSBStatus(ctx, "agent-001", "ABC123", USBStatus("Quarantined"))
	assert.Error(t, err)
}

func TestSetUSBStatus_ScopedToSerial(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertUSBDevice(ctx, &USBDevice{AgentID: "agent-001", SerialNumber: "ABC123"})
	require.NoError(t, err)
	_, err = s.UpsertUSBDevice(ctx, &USBDevice{AgentID: "agent-001", SerialNumber: "DEF456"})
	require.NoError(t, err)

	require.NoError(t, s.SetUSBStatus(ctx, "agent-001", "ABC123", USBStatusAllowed))

	// Operator history for one serial must not leak onto another.
	other, err := s.GetUSBDevice(ctx, "agent-001", "DEF456")
	require.NoError(t, err)
	assert.Equal(t, USBStatusWaitingForApproval, other.Status)
}

func TestListUSBDevices_AllAgents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertUSBDevice(ctx, &USBDevice{AgentID: "agent-001", SerialNumber: "ABC123"})
	require.NoError(t, err)
	_, err = s.UpsertUSBDevice(ctx, &USBDevice{AgentID: "agent-002", SerialNumber: "ABC123"})
	require.NoError(t, err)

	all, err := s.ListUSBDevices(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2, "serial numbers are scoped per agent, not globally unique")

	one, err := s.ListUSBDevices(ctx, "agent-001")
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

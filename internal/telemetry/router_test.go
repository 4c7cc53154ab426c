// ABOUTME: Tests for payload validation, category dispatch, and agent registration
// ABOUTME: Covers idempotent replay and the usb_devices exclusion from the generic path

package telemetry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimeterlab/fleetgate/internal/store"
)

func newTestRouter(t *testing.T) (*Router, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewRouter(st, slog.Default()), st
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		name    string
		want    Category
		wantErr bool
	}{
		{name: "system_info", want: CategorySystemInfo},
		{name: "installed_apps", want: CategoryInstalledApps},
		{name: "port_scan", want: CategoryPortScan},
		{name: "task_info", want: CategoryTaskInfo},
		{name: "usb_devices", want: CategoryUSBDevices},
		{name: "firmware_info", wantErr: true},
		{name: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCategory(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownCategory)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.name, got.String())
		})
	}
}

func TestIngest_SavesSnapshot(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()

	err := router.Ingest(ctx, &Envelope{
		AgentID:    "agent-001",
		Type:       "system_info",
		Data:       []byte(`{"hostname":"ws-01"}`),
		SourceAddr: "10.0.0.5",
	})
	require.NoError(t, err)

	snap, err := st.GetSnapshot(ctx, "agent-001", "system_info")
	require.NoError(t, err)
	assert.JSONEq(t, `{"hostname":"ws-01"}`, string(snap.Data))

	agent, err := st.GetAgent(ctx, "agent-001")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", agent.SourceAddr)
}

func TestIngest_InvalidPayload(t *testing.T) {
	router, _ := newTestRouter(t)
	ctx := context.Background()

	tests := []struct {
		name string
		env  *Envelope
	}{
		{"missing agentId", &Envelope{Type: "system_info", Data: []byte(`{}`)}},
		{"missing type", &Envelope{AgentID: "agent-001", Data: []byte(`{}`)}},
		{"missing data", &Envelope{AgentID: "agent-001", Type: "system_info"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := router.Ingest(ctx, tt.env)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestIngest_UnknownCategoryStillRegistersAgent(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()

	err := router.Ingest(ctx, &Envelope{
		AgentID: "agent-001",
		Type:    "firmware_info",
		Data:    []byte(`{}`),
	})
	assert.ErrorIs(t, err, ErrUnknownCategory)

	// The sender's last-seen is refreshed even when the category is bad.
	_, err = st.GetAgent(ctx, "agent-001")
	assert.NoError(t, err)
}

func TestIngest_USBExcludedFromGenericPath(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()

	err := router.Ingest(ctx, &Envelope{
		AgentID: "agent-001",
		Type:    "usb_devices",
		Data:    []byte(`{"connected_devices":[]}`),
	})
	assert.ErrorIs(t, err, ErrUSBPayload)

	_, err = st.GetSnapshot(ctx, "agent-001", "usb_devices")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngest_ReplayIsIdempotent(t *testing.T) {
	router, st := newTestRouter(t)
	ctx := context.Background()

	env := &Envelope{
		AgentID:   "agent-001",
		Type:      "installed_apps",
		Data:      []byte(`{"apps":["firefox"]}`),
		Timestamp: time.Now(),
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, router.Ingest(ctx, env))
	}

	snaps, err := st.ListSnapshots(ctx, "installed_apps")
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "replaying an identical payload must leave exactly one row")
}

// ABOUTME: Tests for the channel read loop, event dispatch, and reply correlation
// ABOUTME: Uses a scripted wire in place of a live websocket connection

package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimeterlab/fleetgate/internal/store"
	"github.com/perimeterlab/fleetgate/internal/telemetry"
	"github.com/perimeterlab/fleetgate/internal/usb"
)

// fakeWire scripts inbound frames and captures outbound JSON.
type fakeWire struct {
	inbound chan []byte

	mu    sync.Mutex
	sent  [][]byte
	pings int
}

func newFakeWire() *fakeWire {
	return &fakeWire{inbound: make(chan []byte, 16)}
}

func (f *fakeWire) ReadMessage() (int, []byte, error) {
	frame, ok := <-f.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, frame, nil
}

func (f *fakeWire) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeWire) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeWire) SetReadDeadline(t time.Time) error      { return nil }
func (f *fakeWire) SetPongHandler(h func(string) error)    {}
func (f *fakeWire) Close() error                           { return nil }

func (f *fakeWire) sentFrames() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	frames := make([]map[string]any, 0, len(f.sent))
	for _, raw := range f.sent {
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			panic(err)
		}
		frames = append(frames, frame)
	}
	return frames
}

type testHarness struct {
	handler *Handler
	manager *Manager
	store   *store.SQLiteStore
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.Default()
	manager := NewManager(logger)
	router := telemetry.NewRouter(st, logger)
	reconciler := usb.NewReconciler(st, logger)

	return &testHarness{
		handler: NewHandler(manager, router, reconciler, time.Minute, 20*time.Second, logger),
		manager: manager,
		store:   st,
	}
}

// runChannel feeds the scripted frames through a channel and returns the
// replies after the read loop ends.
func runChannel(t *testing.T, h *testHarness, frames ...string) []map[string]any {
	t.Helper()

	wire := newFakeWire()
	conn := newConn(wire, "10.0.0.5:55001", slog.Default())

	for _, frame := range frames {
		wire.inbound <- []byte(frame)
	}
	close(wire.inbound)

	h.handler.serve(context.Background(), conn)
	h.manager.unregister(conn)

	return wire.sentFrames()
}

func TestServe_DataEventAcked(t *testing.T) {
	h := newTestHarness(t)

	replies := runChannel(t, h,
		`{"event":"data","id":"req-1","agentId":"agent-001","type":"system_info","data":{"hostname":"ws-01"}}`)

	require.Len(t, replies, 1)
	assert.Equal(t, "ack", replies[0]["event"])
	assert.Equal(t, "req-1", replies[0]["id"], "reply must echo the correlation id")
	assert.Equal(t, true, replies[0]["success"])

	snap, err := h.store.GetSnapshot(context.Background(), "agent-001", "system_info")
	require.NoError(t, err)
	assert.JSONEq(t, `{"hostname":"ws-01"}`, string(snap.Data))
}

func TestServe_InvalidPayloadKeepsChannelOpen(t *testing.T) {
	h := newTestHarness(t)

	replies := runChannel(t, h,
		`{"event":"data","id":"req-1","type":"system_info","data":{"x":1}}`,
		`{"event":"data","id":"req-2","agentId":"agent-001","type":"system_info","data":{"hostname":"ws-01"}}`)

	require.Len(t, replies, 2, "a failed event must not terminate the channel")
	assert.Equal(t, false, replies[0]["success"])
	assert.Equal(t, "invalid payload format", replies[0]["message"])
	assert.Equal(t, true, replies[1]["success"])
}

func TestServe_UnknownCategoryNonFatal(t *testing.T) {
	h := newTestHarness(t)

	replies := runChannel(t, h,
		`{"event":"data","id":"req-1","agentId":"agent-001","type":"firmware_info","data":{"v":2}}`)

	require.Len(t, replies, 1)
	assert.Equal(t, false, replies[0]["success"])

	// The sender still got registered.
	_, err := h.store.GetAgent(context.Background(), "agent-001")
	assert.NoError(t, err)
}

func TestServe_MalformedJSONNonFatal(t *testing.T) {
	h := newTestHarness(t)

	replies := runChannel(t, h,
		`{not json`,
		`{"event":"data","id":"req-2","agentId":"agent-001","type":"port_scan","data":{"open_ports":[]}}`)

	require.Len(t, replies, 2)
	assert.Equal(t, false, replies[0]["success"])
	assert.Equal(t, true, replies[1]["success"])
}

func TestServe_USBEventReturnsVerdicts(t *testing.T) {
	h := newTestHarness(t)

	replies := runChannel(t, h,
		`{"event":"usb","id":"req-1","agentId":"agent-001","type":"usb_devices","data":{"connected_devices":[{"serial_number":"ABC123","drive_letter":"E:"}]}}`)

	require.Len(t, replies, 1)
	assert.Equal(t, "usb_verdict", replies[0]["event"])
	assert.Equal(t, "req-1", replies[0]["id"])

	devices, ok := replies[0]["devices"].([]any)
	require.True(t, ok)
	require.Len(t, devices, 1)
	device := devices[0].(map[string]any)
	assert.Equal(t, "ABC123", device["serial_number"])
	assert.Equal(t, "WaitingForApproval", device["status"])
}

func TestServe_USBInterceptedFromDataEvent(t *testing.T) {
	h := newTestHarness(t)

	replies := runChannel(t, h,
		`{"event":"data","id":"req-1","agentId":"agent-001","type":"usb_devices","data":{"connected_devices":[{"serial_number":"ABC123"}]}}`)

	require.Len(t, replies, 1)
	assert.Equal(t, "usb_verdict", replies[0]["event"], "usb payloads bypass the generic store path")

	_, err := h.store.GetSnapshot(context.Background(), "agent-001", "usb_devices")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestServe_USBVerdictReflectsOperatorDecision(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// First channel: device reported, then blocked by the operator.
	runChannel(t, h,
		`{"event":"usb","id":"r1","agentId":"agent-001","data":{"connected_devices":[{"serial_number":"ABC123"}]}}`)
	require.NoError(t, h.store.SetUSBStatus(ctx, "agent-001", "ABC123", store.USBStatusBlocked))

	// Fresh channel simulating a reconnect: the decision persists.
	replies := runChannel(t, h,
		`{"event":"usb","id":"r2","agentId":"agent-001","data":{"connected_devices":[{"serial_number":"ABC123"}]}}`)

	require.Len(t, replies, 1)
	devices := replies[0]["devices"].([]any)
	device := devices[0].(map[string]any)
	assert.Equal(t, "Blocked", device["status"])
}

func TestServe_FetchEvent(t *testing.T) {
	h := newTestHarness(t)

	replies := runChannel(t, h,
		`{"event":"data","id":"r1","agentId":"agent-001","type":"system_info","data":{"hostname":"ws-01"}}`,
		`{"event":"fetch","id":"r2","type":"system_info","agentId":"agent-001"}`)

	require.Len(t, replies, 2)
	assert.Equal(t, "result", replies[1]["event"])
	assert.Equal(t, "r2", replies[1]["id"])
	assert.Equal(t, true, replies[1]["success"])
}

func TestServe_UnknownEvent(t *testing.T) {
	h := newTestHarness(t)

	replies := runChannel(t, h, `{"event":"subscribe","id":"r1"}`)

	require.Len(t, replies, 1)
	assert.Equal(t, false, replies[0]["success"])
}

func TestServe_RepliesInArrivalOrder(t *testing.T) {
	h := newTestHarness(t)

	replies := runChannel(t, h,
		`{"event":"data","id":"r1","agentId":"agent-001","type":"system_info","data":{"n":1}}`,
		`{"event":"data","id":"r2","agentId":"agent-001","type":"port_scan","data":{"n":2}}`,
		`{"event":"data","id":"r3","agentId":"agent-001","type":"task_info","data":{"n":3}}`)

	require.Len(t, replies, 3)
	assert.Equal(t, "r1", replies[0]["id"])
	assert.Equal(t, "r2", replies[1]["id"])
	assert.Equal(t, "r3", replies[2]["id"])
}

func TestSendCommand_RoundTrip(t *testing.T) {
	h := newTestHarness(t)

	wire := newFakeWire()
	conn := newConn(wire, "10.0.0.5:55001", slog.Default())

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		h.handler.serve(context.Background(), conn)
	}()

	// Bind the channel with one data payload.
	wire.inbound <- []byte(`{"event":"data","id":"r1","agentId":"agent-001","type":"system_info","data":{"hostname":"ws-01"}}`)
	require.Eventually(t, func() bool {
		return h.manager.IsOnline("agent-001")
	}, time.Second, 5*time.Millisecond)

	// Echo command acks the way an agent would.
	ackDone := make(chan struct{})
	go func() {
		defer close(ackDone)
		for {
			var commandID string
			for _, frame := range wire.sentFrames() {
				if frame["event"] == "command" {
					commandID = frame["id"].(string)
				}
			}
			if commandID != "" {
				ack, _ := json.Marshal(Message{Event: EventCommandAck, ID: commandID})
				wire.inbound <- ack
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.manager.SendCommand(ctx, "agent-001", "refresh")
	assert.NoError(t, err)

	<-ackDone
	close(wire.inbound)
	<-loopDone
}

func TestSendCommand_AgentOffline(t *testing.T) {
	h := newTestHarness(t)

	err := h.manager.SendCommand(context.Background(), "ghost", "refresh")
	assert.ErrorIs(t, err, ErrAgentOffline)
}

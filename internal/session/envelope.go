// ABOUTME: Wire envelope types for the agent WebSocket channel
// ABOUTME: Every request carries a correlation id that replies echo back

package session

import (
	"encoding/json"

	"github.com/perimeterlab/fleetgate/internal/usb"
)

// Inbound event names.
const (
	EventData       = "data"
	EventUSB        = "usb"
	EventFetch      = "fetch"
	EventCommandAck = "command_ack"
)

// Outbound event names.
const (
	EventAck        = "ack"
	EventUSBVerdict = "usb_verdict"
	EventResult     = "result"
	EventCommand    = "command"
)

// Message is one inbound frame from an agent. The correlation ID is chosen
// by the sender and echoed verbatim in the reply; the channel itself
// carries the correlation, the server holds no callback registry.
type Message struct {
	Event     string          `json:"event"`
	ID        string          `json:"id,omitempty"`
	AgentID   string          `json:"agentId,omitempty"`
	Type      string          `json:"type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Ack is the reply to a data event.
type Ack struct {
	Event   string `json:"event"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// USBVerdictReply is the synchronous reply to a usb event: the
// authoritative status of every reported device.
type USBVerdictReply struct {
	Event   string        `json:"event"`
	ID      string        `json:"id,omitempty"`
	Devices []usb.Verdict `json:"devices"`
}

// FetchReply is the reply to a fetch event.
type FetchReply struct {
	Event   string `json:"event"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Error   string `json:"error,omitempty"`
}

// Command is a server-initiated request pushed to an agent. The ID is
// generated server-side; the agent echoes it in its command_ack.
type Command struct {
	Event string `json:"event"`
	ID    string `json:"id"`
	Name  string `json:"name"`
}

// usbPayload is the body of a usb event.
type usbPayload struct {
	ConnectedDevices []usb.ConnectedDevice `json:"connected_devices"`
}

// ABOUTME: WebSocket upgrade handler and per-channel read loop for agent sessions
// ABOUTME: Dispatches data/usb/fetch events and folds every failure into a reply

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/perimeterlab/fleetgate/internal/telemetry"
	"github.com/perimeterlab/fleetgate/internal/usb"
)

// Default liveness timing. The ping interval must stay shorter than the
// idle timeout or healthy channels get reaped.
const (
	DefaultIdleTimeout  = 60 * time.Second
	DefaultPingInterval = 20 * time.Second
)

// Handler upgrades agent connections and runs one read loop per channel.
// Events within a channel are processed strictly in arrival order; separate
// channels run concurrently.
type Handler struct {
	manager      *Manager
	router       *telemetry.Router
	usb          *usb.Reconciler
	idleTimeout  time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
	upgrader     websocket.Upgrader
}

// NewHandler creates the agent channel handler.
func NewHandler(manager *Manager, router *telemetry.Router, reconciler *usb.Reconciler, idleTimeout, pingInterval time.Duration, logger *slog.Logger) *Handler {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}

	return &Handler{
		manager:      manager,
		router:       router,
		usb:          reconciler,
		idleTimeout:  idleTimeout,
		pingInterval: pingInterval,
		logger:       logger.With("component", "session"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP upgrades the request to a WebSocket channel and serves it
// until the agent disconnects or goes idle.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	sourceAddr := sourceAddress(r)
	conn := newConn(sock, sourceAddr, h.logger.With("source_addr", sourceAddr))

	h.logger.Info("agent connected", "source_addr", sourceAddr)
	h.serve(r.Context(), conn)

	h.manager.unregister(conn)
	sock.Close()
}

// sourceAddress derives the channel's source address once at connect time.
// A forwarding proxy's first hop wins over the socket peer.
func sourceAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// serve runs the channel's read loop. All event handling happens inline,
// so payloads from one agent are processed strictly in arrival order.
// Only transport errors end the loop; handler failures become replies.
func (h *Handler) serve(ctx context.Context, conn *Conn) {
	conn.sock.SetReadDeadline(time.Now().Add(h.idleTimeout))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(h.idleTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(conn, done)

	for {
		_, raw, err := conn.sock.ReadMessage()
		if err != nil {
			h.logDisconnect(conn, err)
			return
		}
		conn.sock.SetReadDeadline(time.Now().Add(h.idleTimeout))

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.reply(conn, &Ack{
				Event:   EventAck,
				Success: false,
				Message: "invalid message format",
				Error:   err.Error(),
			})
			continue
		}

		h.dispatch(ctx, conn, &msg)
	}
}

// pingLoop keeps the channel alive while the agent is quiet.
func (h *Handler) pingLoop(conn *Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.pingInterval / 2)
			if err := conn.sock.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (h *Handler) logDisconnect(conn *Conn, err error) {
	if errors.Is(err, websocket.ErrCloseSent) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.logger.Info("agent disconnected", "agent_id", conn.AgentID())
		return
	}
	h.logger.Info("agent channel ended", "agent_id", conn.AgentID(), "reason", err)
}

// dispatch routes one inbound event. usb_devices payloads are intercepted
// before the generic data path regardless of which event carried them.
func (h *Handler) dispatch(ctx context.Context, conn *Conn, msg *Message) {
	switch msg.Event {
	case EventData:
		if msg.Type == telemetry.CategoryUSBDevices.String() {
			h.handleUSB(ctx, conn, msg)
			return
		}
		h.handleData(ctx, conn, msg)

	case EventUSB:
		h.handleUSB(ctx, conn, msg)

	case EventFetch:
		h.handleFetch(ctx, conn, msg)

	case EventCommandAck:
		conn.handleCommandAck(msg)

	default:
		h.reply(conn, &Ack{
			Event:   EventAck,
			ID:      msg.ID,
			Success: false,
			Message: fmt.Sprintf("unknown event %q", msg.Event),
		})
	}
}

// handleData feeds one telemetry payload through the router and acks it.
func (h *Handler) handleData(ctx context.Context, conn *Conn, msg *Message) {
	h.bind(conn, msg.AgentID)

	var timestamp time.Time
	if msg.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			timestamp = ts
		}
	}

	err := h.router.Ingest(ctx, &telemetry.Envelope{
		AgentID:    msg.AgentID,
		Type:       msg.Type,
		Data:       msg.Data,
		SourceAddr: conn.SourceAddr(),
		Timestamp:  timestamp,
	})

	switch {
	case err == nil:
		h.reply(conn, &Ack{
			Event:   EventAck,
			ID:      msg.ID,
			Success: true,
			Message: fmt.Sprintf("%s saved successfully", msg.Type),
		})

	case errors.Is(err, telemetry.ErrInvalidPayload):
		h.reply(conn, &Ack{
			Event:   EventAck,
			ID:      msg.ID,
			Success: false,
			Message: "invalid payload format",
		})

	case errors.Is(err, telemetry.ErrUnknownCategory):
		h.reply(conn, &Ack{
			Event:   EventAck,
			ID:      msg.ID,
			Success: false,
			Message: fmt.Sprintf("unknown data type %q", msg.Type),
		})

	default:
		// Store failures included: the channel stays usable.
		h.reply(conn, &Ack{
			Event:   EventAck,
			ID:      msg.ID,
			Success: false,
			Message: "failed to save agent data",
			Error:   err.Error(),
		})
	}
}

// handleUSB evaluates the reported devices and replies with a verdict per
// device. The reply is synchronous and never waits on an operator.
func (h *Handler) handleUSB(ctx context.Context, conn *Conn, msg *Message) {
	if msg.AgentID == "" {
		h.reply(conn, &Ack{
			Event:   EventAck,
			ID:      msg.ID,
			Success: false,
			Message: "invalid payload format",
		})
		return
	}
	h.bind(conn, msg.AgentID)

	var payload usbPayload
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			h.reply(conn, &Ack{
				Event:   EventAck,
				ID:      msg.ID,
				Success: false,
				Message: "invalid usb payload",
				Error:   err.Error(),
			})
			return
		}
	}

	verdicts, err := h.usb.EvaluateConnected(ctx, msg.AgentID, payload.ConnectedDevices)
	if err != nil {
		h.reply(conn, &Ack{
			Event:   EventAck,
			ID:      msg.ID,
			Success: false,
			Message: "failed to evaluate usb devices",
			Error:   err.Error(),
		})
		return
	}

	if verdicts == nil {
		verdicts = []usb.Verdict{}
	}
	h.reply(conn, &USBVerdictReply{
		Event:   EventUSBVerdict,
		ID:      msg.ID,
		Devices: verdicts,
	})
}

// handleFetch serves a read request on the same channel.
func (h *Handler) handleFetch(ctx context.Context, conn *Conn, msg *Message) {
	result := h.router.Fetch(ctx, &telemetry.FetchRequest{
		Type:    msg.Type,
		AgentID: msg.AgentID,
	})

	h.reply(conn, &FetchReply{
		Event:   EventResult,
		ID:      msg.ID,
		Success: result.Success,
		Message: result.Message,
		Data:    result.Data,
		Error:   result.Error,
	})
}

// bind attaches the agent ID to the channel on first sighting and
// registers it with the manager.
func (h *Handler) bind(conn *Conn, agentID string) {
	if agentID == "" {
		return
	}
	if conn.bindAgent(agentID) {
		h.manager.register(conn)
	}
}

func (h *Handler) reply(conn *Conn, v any) {
	if err := conn.Send(v); err != nil {
		h.logger.Error("sending reply", "agent_id", conn.AgentID(), "error", err)
	}
}

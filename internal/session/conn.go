// ABOUTME: Represents a single connected agent channel and serializes its writes
// ABOUTME: Routes command acknowledgments back to pending server-initiated requests

package session

import (
	"log/slog"
	"sync"
	"time"
)

// wire is the subset of *websocket.Conn the session layer uses. Tests
// substitute a scripted implementation.
type wire interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Conn is one agent channel. The connection is anonymous at upgrade time;
// the agent ID is bound by the first payload that carries one. The source
// address is fixed for the channel's lifetime.
type Conn struct {
	sock       wire
	sourceAddr string
	logger     *slog.Logger

	mu      sync.RWMutex
	agentID string
	pending map[string]chan *Message

	writeMu sync.Mutex
}

// newConn wraps a websocket connection.
func newConn(sock wire, sourceAddr string, logger *slog.Logger) *Conn {
	return &Conn{
		sock:       sock,
		sourceAddr: sourceAddr,
		logger:     logger,
		pending:    make(map[string]chan *Message),
	}
}

// AgentID returns the bound agent ID, or empty if no payload has bound one.
func (c *Conn) AgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentID
}

// SourceAddr returns the remote address captured at upgrade time.
func (c *Conn) SourceAddr() string {
	return c.sourceAddr
}

// bindAgent sets the agent ID on first sighting. Returns true when this
// call performed the binding.
func (c *Conn) bindAgent(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.agentID != "" {
		if c.agentID != agentID {
			c.logger.Warn("payload agent id differs from bound id",
				"bound", c.agentID, "payload", agentID)
		}
		return false
	}
	c.agentID = agentID
	return true
}

// Send writes one frame to the agent. Writes are serialized: the handler
// goroutine and the ping loop share the socket.
func (c *Conn) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.WriteJSON(v)
}

// CreateRequest registers a pending server-initiated request and returns
// the channel its acknowledgment arrives on. The caller must eventually
// call CloseRequest.
func (c *Conn) CreateRequest(requestID string) <-chan *Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan *Message, 1)
	c.pending[requestID] = ch
	return ch
}

// CloseRequest closes and removes the channel for a request.
func (c *Conn) CloseRequest(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.pending[requestID]; ok {
		close(ch)
		delete(c.pending, requestID)
	}
}

// handleCommandAck routes an acknowledgment to its pending request.
// Unmatched acks are logged and dropped.
func (c *Conn) handleCommandAck(msg *Message) {
	c.mu.RLock()
	ch, ok := c.pending[msg.ID]
	c.mu.RUnlock()

	if !ok {
		c.logger.Warn("ack for unknown request", "request_id", msg.ID)
		return
	}

	select {
	case ch <- msg:
	default:
		c.logger.Warn("ack channel full, dropping", "request_id", msg.ID)
	}
}

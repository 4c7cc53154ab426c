// ABOUTME: Tracks connected agent channels and pushes server-initiated commands
// ABOUTME: Central registry keyed by bound agent ID

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrAgentOffline indicates the agent has no live channel.
var ErrAgentOffline = errors.New("agent not connected")

// Manager tracks all live agent channels. A channel appears here once its
// first payload binds an agent ID, and disappears on disconnect.
type Manager struct {
	conns  map[string]*Conn
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		conns:  make(map[string]*Conn),
		logger: logger.With("component", "session"),
	}
}

// register adds a bound channel. A reconnect replaces the previous channel
// for the same agent; the stale one is left to die on its own read loop.
func (m *Manager) register(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[conn.AgentID()] = conn
	m.logger.Info("agent channel bound",
		"agent_id", conn.AgentID(),
		"source_addr", conn.SourceAddr(),
		"total_agents", len(m.conns),
	)
}

// unregister removes a channel, unless a newer channel for the same agent
// has already replaced it.
func (m *Manager) unregister(conn *Conn) {
	agentID := conn.AgentID()
	if agentID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conns[agentID] == conn {
		delete(m.conns, agentID)
		m.logger.Info("agent channel closed",
			"agent_id", agentID,
			"total_agents", len(m.conns),
		)
	}
}

// Get returns the live channel for an agent.
func (m *Manager) Get(agentID string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[agentID]
	return conn, ok
}

// IsOnline reports whether the agent currently has a live channel.
func (m *Manager) IsOnline(agentID string) bool {
	_, ok := m.Get(agentID)
	return ok
}

// ConnectedIDs returns the agent IDs with live channels.
func (m *Manager) ConnectedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}

// SendCommand pushes a named command to an agent and waits for its
// acknowledgment. The correlation id is generated here, not by the
// transport. Returns ErrAgentOffline when no channel is live.
func (m *Manager) SendCommand(ctx context.Context, agentID, name string) error {
	conn, ok := m.Get(agentID)
	if !ok {
		return ErrAgentOffline
	}

	requestID := uuid.New().String()
	ackCh := conn.CreateRequest(requestID)
	defer conn.CloseRequest(requestID)

	if err := conn.Send(&Command{Event: EventCommand, ID: requestID, Name: name}); err != nil {
		return err
	}

	m.logger.Debug("command sent", "agent_id", agentID, "name", name, "request_id", requestID)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-ackCh:
		if !ok {
			return errors.New("channel closed before acknowledgment")
		}
		return nil
	}
}

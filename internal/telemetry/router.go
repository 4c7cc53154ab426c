// ABOUTME: Payload router that validates inbound agent telemetry and dispatches to the store
// ABOUTME: Always refreshes the agent registry before the category-specific write

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/perimeterlab/fleetgate/internal/store"
)

// Router errors.
var (
	// ErrInvalidPayload indicates a payload missing agentId, type, or data.
	ErrInvalidPayload = errors.New("invalid payload: agentId, type, and data are required")

	// ErrUSBPayload indicates a usb_devices payload reached the generic
	// ingest path. Callers route those to the USB reconciler instead.
	ErrUSBPayload = errors.New("usb_devices payloads are handled by the usb reconciler")
)

// Envelope is one inbound telemetry payload from an agent.
type Envelope struct {
	AgentID    string
	Type       string
	Data       []byte
	SourceAddr string
	Timestamp  time.Time // zero means "now"
}

// Router validates inbound payloads and upserts them into the correct
// store table keyed by agent.
type Router struct {
	store  store.Store
	logger *slog.Logger
}

// NewRouter creates a Router backed by the given store.
func NewRouter(st store.Store, logger *slog.Logger) *Router {
	return &Router{
		store:  st,
		logger: logger.With("component", "telemetry"),
	}
}

// Ingest validates the envelope, registers/refreshes the sending agent,
// and upserts the payload into its category table.
//
// The agent registry write happens before category validation, so a
// payload with an unrecognized category still updates the agent's
// last-seen. Failures are returned to the caller to be surfaced as a
// failure acknowledgment; none of them are fatal to the channel.
func (r *Router) Ingest(ctx context.Context, env *Envelope) error {
	if env.AgentID == "" || env.Type == "" || len(env.Data) == 0 {
		return ErrInvalidPayload
	}

	timestamp := env.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	if err := r.store.UpsertAgent(ctx, &store.Agent{
		AgentID:    env.AgentID,
		SourceAddr: env.SourceAddr,
		LastSeen:   time.Now(),
	}); err != nil {
		return fmt.Errorf("registering agent %s: %w", env.AgentID, err)
	}

	category, err := ParseCategory(env.Type)
	if err != nil {
		r.logger.Warn("payload with unknown category",
			"agent_id", env.AgentID,
			"type", env.Type,
		)
		return err
	}

	if !category.Storable() {
		return ErrUSBPayload
	}

	if err := r.store.UpsertSnapshot(ctx, &store.Snapshot{
		AgentID:   env.AgentID,
		Category:  category.String(),
		Timestamp: timestamp,
		Data:      env.Data,
	}); err != nil {
		return fmt.Errorf("saving %s for agent %s: %w", category, env.AgentID, err)
	}

	r.logger.Info("payload saved",
		"agent_id", env.AgentID,
		"category", category.String(),
	)
	return nil
}

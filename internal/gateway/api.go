// ABOUTME: HTTP API handlers for health, passive scan ingestion, and the operator API
// ABOUTME: Operator routes are JWT-protected; scan and visualizer routes are open

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/perimeterlab/fleetgate/internal/session"
	"github.com/perimeterlab/fleetgate/internal/store"
)

// commandTimeout bounds how long a pushed command waits for the agent's
// acknowledgement before the API request gives up.
const commandTimeout = 10 * time.Second

// ScanObservation is one passive scanner sighting in a POST /api/scan body.
type ScanObservation struct {
	IP       string `json:"ip"`
	MAC      string `json:"mac"`
	Vendor   string `json:"vendor"`
	Hostname string `json:"hostname"`
	NoAgent  bool   `json:"noAgent"`
}

// ScanResponse is the JSON response for POST /api/scan.
type ScanResponse struct {
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
}

// AgentResponse is one entry in the GET /api/agents response.
type AgentResponse struct {
	AgentID  string    `json:"agentId"`
	IP       string    `json:"ip"`
	LastSeen time.Time `json:"lastSeen"`
	Online   bool      `json:"online"`
}

// PassiveScanResponse is one entry in the GET /api/visualizer response.
type PassiveScanResponse struct {
	IP        string    `json:"ip"`
	MAC       string    `json:"mac"`
	Vendor    string    `json:"vendor"`
	Hostname  string    `json:"hostname"`
	NoAgent   bool      `json:"noAgent"`
	CreatedAt time.Time `json:"createdAt"`
}

// USBDeviceResponse is one entry in the GET /api/usb response.
type USBDeviceResponse struct {
	AgentID      string    `json:"agentId"`
	SerialNumber string    `json:"serial_number"`
	VendorID     string    `json:"vendor_id,omitempty"`
	ProductID    string    `json:"product_id,omitempty"`
	Description  string    `json:"description,omitempty"`
	DriveLetter  string    `json:"drive_letter,omitempty"`
	Status       string    `json:"status"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// SetUSBStatusRequest is the JSON request body for POST /api/usb/status.
type SetUSBStatusRequest struct {
	AgentID      string `json:"agent_id"`
	SerialNumber string `json:"serial_number"`
	Status       string `json:"status"`
}

// handleHealth returns liveness status with a server timestamp.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"ts":     time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCheckSetup reports whether the gateway has a wired store. The
// dashboard polls this to decide between the setup flow and the app.
func (g *Gateway) handleCheckSetup(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]bool{"setupComplete": g.ready()})
}

// handleScan handles POST /api/scan requests from the passive network
// scanner. The body is a JSON array of observations; entries without an
// IP address are skipped, not rejected.
func (g *Gateway) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var observations []ScanObservation
	if err := json.NewDecoder(r.Body).Decode(&observations); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	now := time.Now()
	saved, skipped := 0, 0
	for _, obs := range observations {
		if obs.IP == "" {
			g.logger.Warn("skipping scan observation without IP", "mac", obs.MAC)
			skipped++
			continue
		}
		scan := &store.PassiveScan{
			IP:        obs.IP,
			MAC:       obs.MAC,
			Vendor:    obs.Vendor,
			Hostname:  obs.Hostname,
			NoAgent:   obs.NoAgent,
			CreatedAt: now,
		}
		if err := g.store.UpsertPassiveScan(r.Context(), scan); err != nil {
			g.logger.Error("failed to save scan observation", "ip", obs.IP, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		saved++
	}

	g.writeJSON(w, http.StatusOK, ScanResponse{Saved: saved, Skipped: skipped})
}

// handleVisualizer handles GET /api/visualizer requests, returning all
// passive scan records for the network map.
func (g *Gateway) handleVisualizer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	scans, err := g.store.ListPassiveScans(r.Context())
	if err != nil {
		g.logger.Error("failed to list passive scans", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]PassiveScanResponse, 0, len(scans))
	for _, s := range scans {
		response = append(response, PassiveScanResponse{
			IP:        s.IP,
			MAC:       s.MAC,
			Vendor:    s.Vendor,
			Hostname:  s.Hostname,
			NoAgent:   s.NoAgent,
			CreatedAt: s.CreatedAt,
		})
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleAgents handles GET /api/agents requests. It returns the agent
// registry with live channel status from the session manager.
func (g *Gateway) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	agents, err := g.store.ListAgents(r.Context())
	if err != nil {
		g.logger.Error("failed to list agents", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		response = append(response, AgentResponse{
			AgentID:  a.AgentID,
			IP:       a.SourceAddr,
			LastSeen: a.LastSeen,
			Online:   g.manager.IsOnline(a.AgentID),
		})
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleAgentRoutes handles /api/agents/{id}/... subroutes. Currently only
// POST /api/agents/{id}/refresh, which pushes a refresh command over the
// agent's live channel and waits for the acknowledgement.
func (g *Gateway) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "refresh" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	agentID := parts[0]

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := g.manager.SendCommand(ctx, agentID, "refresh"); err != nil {
		if errors.Is(err, session.ErrAgentOffline) {
			g.sendJSONError(w, http.StatusServiceUnavailable, "agent not connected")
			return
		}
		g.logger.Error("refresh command failed", "agent_id", agentID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]string{"message": "refresh acknowledged"})
}

// handleUSBDevices handles GET /api/usb requests. The optional agent_id
// query parameter scopes the listing to one agent.
func (g *Gateway) handleUSBDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	devices, err := g.store.ListUSBDevices(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		g.logger.Error("failed to list USB devices", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]USBDeviceResponse, 0, len(devices))
	for _, d := range devices {
		response = append(response, USBDeviceResponse{
			AgentID:      d.AgentID,
			SerialNumber: d.SerialNumber,
			VendorID:     d.VendorID,
			ProductID:    d.ProductID,
			Description:  d.Description,
			DriveLetter:  d.DriveLetter,
			Status:       string(d.Status),
			FirstSeen:    d.FirstSeen,
			LastSeen:     d.LastSeen,
		})
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleUSBStatus handles POST /api/usb/status requests, recording an
// operator allow/block decision for a device.
func (g *Gateway) handleUSBStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req SetUSBStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" || req.SerialNumber == "" || req.Status == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_id, serial_number, and status are required")
		return
	}
	status := store.USBStatus(req.Status)
	if !status.Valid() {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid status '%s'", req.Status))
		return
	}

	err := g.usb.SetStatus(r.Context(), req.AgentID, req.SerialNumber, status)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrAgentNotFound):
		g.sendJSONError(w, http.StatusNotFound, fmt.Sprintf("no USB devices recorded for agent '%s'", req.AgentID))
		return
	case errors.Is(err, store.ErrDeviceNotFound):
		g.sendJSONError(w, http.StatusNotFound, "device not found")
		return
	default:
		g.logger.Error("failed to set USB status", "agent_id", req.AgentID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]string{"message": "status updated"})
}

// handleReconciliation handles GET /api/reconciliation requests, running
// a classification pass over agent telemetry and passive scan data.
func (g *Gateway) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	report, err := g.recon.Classify(r.Context())
	if err != nil {
		g.logger.Error("reconciliation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, report)
}

// writeJSON writes a JSON response with the given status code.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// ABOUTME: Device reconciliation engine merging agent telemetry with passive scan data
// ABOUTME: Classifies every known device as active, inactive, or unmanaged per request

package recon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/perimeterlab/fleetgate/internal/store"
	"github.com/perimeterlab/fleetgate/internal/telemetry"
)

// ActiveDevice is a passively observed device correlated with a reporting
// agent by IP address.
type ActiveDevice struct {
	IP        string `json:"ip"`
	MAC       string `json:"mac"`
	Vendor    string `json:"vendor"`
	AgentID   string `json:"agentId"`
	Hostname  string `json:"hostname"`
	OSType    string `json:"os_type"`
	OSRelease string `json:"os_release"`
}

// InactiveAgent is an agent that reported system info with at least one IP,
// none of which the passive scanner currently sees.
type InactiveAgent struct {
	AgentID   string    `json:"agentId"`
	Hostname  string    `json:"hostname"`
	IPs       []string  `json:"ips"`
	OSType    string    `json:"os_type"`
	OSRelease string    `json:"os_release"`
	LastSeen  time.Time `json:"lastSeen"`
}

// UnmanagedDevice is a passively observed device with no agent installed.
type UnmanagedDevice struct {
	IP       string    `json:"ip"`
	MAC      string    `json:"mac"`
	Vendor   string    `json:"vendor"`
	Hostname string    `json:"hostname"`
	SeenAt   time.Time `json:"seenAt"`
}

// Report is one reconciliation pass over the agent registry and passive
// scan data. The three sets are pairwise disjoint.
type Report struct {
	Active      []ActiveDevice    `json:"active"`
	Inactive    []InactiveAgent   `json:"inactive"`
	Unmanaged   []UnmanagedDevice `json:"unmanaged"`
	GeneratedAt time.Time         `json:"generatedAt"`
}

// Engine computes device classifications on demand. Nothing is cached:
// both discovery sources mutate independently and cheaply, so every
// dashboard refresh recomputes from the store.
type Engine struct {
	store  store.Store
	logger *slog.Logger
}

// NewEngine creates an Engine backed by the given store.
func NewEngine(st store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  st,
		logger: logger.With("component", "recon"),
	}
}

// Classify reads the latest system_info snapshots and passive scan records
// and computes the active/inactive/unmanaged classification.
//
// The correlation key is the IP address extracted from the agent's most
// recent system_info snapshot. IPs are not authoritative identities: DHCP
// churn can reassign an address between an agent's report and a scan pass,
// which misclassifies the device until the next report. The data model has
// no stable agent-to-network binding to close that gap.
func (e *Engine) Classify(ctx context.Context) (*Report, error) {
	snaps, err := e.store.ListSnapshots(ctx, telemetry.CategorySystemInfo.String())
	if err != nil {
		return nil, fmt.Errorf("listing system_info snapshots: %w", err)
	}

	scans, err := e.store.ListPassiveScans(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing passive scans: %w", err)
	}

	systems := make([]*systemRecord, 0, len(snaps))
	for _, snap := range snaps {
		rec, err := parseSystemRecord(snap)
		if err != nil {
			e.logger.Warn("skipping malformed system_info snapshot",
				"agent_id", snap.AgentID, "error", err)
			continue
		}
		systems = append(systems, rec)
	}

	report := classify(systems, scans)
	e.logger.Info("reconciliation computed",
		"active", len(report.Active),
		"inactive", len(report.Inactive),
		"unmanaged", len(report.Unmanaged),
	)
	return report, nil
}

// classify is the pure reconciliation step over parsed inputs.
func classify(systems []*systemRecord, scans []*store.PassiveScan) *Report {
	latest := latestPerIP(scans)

	// Every IP visible in any passive record, for the inactive check.
	scannedIPs := make(map[string]bool, len(latest))
	for ip := range latest {
		scannedIPs[ip] = true
	}

	agentIPs := make(map[string]bool)
	for _, sys := range systems {
		for _, ip := range sys.ips {
			agentIPs[ip] = true
		}
	}

	report := &Report{
		Active:      []ActiveDevice{},
		Inactive:    []InactiveAgent{},
		Unmanaged:   []UnmanagedDevice{},
		GeneratedAt: time.Now(),
	}

	for _, scan := range orderedScans(latest, scans) {
		switch {
		case scan.NoAgent:
			report.Unmanaged = append(report.Unmanaged, UnmanagedDevice{
				IP:       scan.IP,
				MAC:      scan.MAC,
				Vendor:   scan.Vendor,
				Hostname: scan.Hostname,
				SeenAt:   scan.CreatedAt,
			})

		case agentIPs[scan.IP]:
			active := ActiveDevice{
				IP:     scan.IP,
				MAC:    scan.MAC,
				Vendor: scan.Vendor,
			}
			if sys := findSystemByIP(systems, scan.IP); sys != nil {
				active.AgentID = sys.agentID
				active.Hostname = sys.hostname
				active.OSType = sys.osType
				active.OSRelease = sys.osRelease
			}
			report.Active = append(report.Active, active)
		}
	}

	for _, sys := range systems {
		// Agents with zero recoverable IPs are ambiguous, not inactive.
		if len(sys.ips) == 0 {
			continue
		}
		seen := false
		for _, ip := range sys.ips {
			if scannedIPs[ip] {
				seen = true
				break
			}
		}
		if !seen {
			report.Inactive = append(report.Inactive, InactiveAgent{
				AgentID:   sys.agentID,
				Hostname:  sys.hostname,
				IPs:       sys.ips,
				OSType:    sys.osType,
				OSRelease: sys.osRelease,
				LastSeen:  sys.timestamp,
			})
		}
	}

	return report
}

// latestPerIP keeps only the newest record for each IP. On equal
// created_at the earlier record in store order wins, so repeated passes
// over the same data stay deterministic.
func latestPerIP(scans []*store.PassiveScan) map[string]*store.PassiveScan {
	latest := make(map[string]*store.PassiveScan, len(scans))
	for _, scan := range scans {
		if scan.IP == "" {
			continue
		}
		existing, ok := latest[scan.IP]
		if !ok || scan.CreatedAt.After(existing.CreatedAt) {
			latest[scan.IP] = scan
		}
	}
	return latest
}

// orderedScans returns the deduplicated records in their original store
// order, so report ordering does not depend on map iteration.
func orderedScans(latest map[string]*store.PassiveScan, scans []*store.PassiveScan) []*store.PassiveScan {
	ordered := make([]*store.PassiveScan, 0, len(latest))
	emitted := make(map[string]bool, len(latest))
	for _, scan := range scans {
		keep, ok := latest[scan.IP]
		if !ok || emitted[scan.IP] || keep != scan {
			continue
		}
		emitted[scan.IP] = true
		ordered = append(ordered, scan)
	}
	return ordered
}

func findSystemByIP(systems []*systemRecord, ip string) *systemRecord {
	for _, sys := range systems {
		for _, candidate := range sys.ips {
			if candidate == ip {
				return sys
			}
		}
	}
	return nil
}

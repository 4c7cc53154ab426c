// ABOUTME: IP address extraction from system_info snapshot bodies
// ABOUTME: Handles the explicit ip field plus reported interface addresses

package recon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/perimeterlab/fleetgate/internal/store"
)

// systemRecord is the slice of a system_info snapshot the engine needs.
type systemRecord struct {
	agentID   string
	hostname  string
	osType    string
	osRelease string
	ips       []string
	timestamp time.Time
}

// systemInfoBody is a partial decode of the opaque system_info payload.
type systemInfoBody struct {
	Hostname  string `json:"hostname"`
	OSType    string `json:"os_type"`
	OSRelease string `json:"os_release"`
	IP        string `json:"ip"`
	WLANInfo  []struct {
		Address string `json:"address"`
	} `json:"wlan_info"`
}

func parseSystemRecord(snap *store.Snapshot) (*systemRecord, error) {
	var body systemInfoBody
	if err := json.Unmarshal(snap.Data, &body); err != nil {
		return nil, fmt.Errorf("decoding system_info body: %w", err)
	}

	return &systemRecord{
		agentID:   snap.AgentID,
		hostname:  body.Hostname,
		osType:    body.OSType,
		osRelease: body.OSRelease,
		ips:       extractIPs(&body),
		timestamp: snap.Timestamp,
	}, nil
}

// extractIPs collects the distinct IP addresses an agent reported: the
// explicit ip field first, then every interface address. Order is
// preserved so the explicit field stays the primary candidate.
func extractIPs(body *systemInfoBody) []string {
	var ips []string
	seen := make(map[string]bool)

	add := func(ip string) {
		if ip == "" || seen[ip] {
			return
		}
		seen[ip] = true
		ips = append(ips, ip)
	}

	add(body.IP)
	for _, iface := range body.WLANInfo {
		add(iface.Address)
	}

	return ips
}

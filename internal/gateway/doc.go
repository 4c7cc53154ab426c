// Package gateway wires the fleetgate server components together and
// owns the HTTP surface.
//
// # Overview
//
// A Gateway holds the store, the agent session manager, the telemetry
// router, the USB reconciler, and the reconciliation engine, and serves
// them over a single HTTP listener:
//
//   - /health and /api/check-setup are always available
//   - /api/scan ingests passive scanner reports
//   - /api/visualizer serves the passive scan records
//   - /api/agents, /api/usb, /api/usb/status, /api/reconciliation, and
//     /api/agents/{id}/refresh form the JWT-protected operator API
//   - /ws/agent upgrades to an agent telemetry channel
//
// # Setup Mode
//
// When the configuration has no database path the gateway starts in
// setup mode: only /health and /api/check-setup respond, everything
// else returns 503. Sending SIGHUP after the config file gains a
// database path wires the full API without a restart.
//
// # Reconfiguration
//
// All runtime reconfiguration flows through a control loop consuming a
// commands channel. SIGHUP posts a reload command that re-reads the
// config file and applies the log level; there is no file watching.
package gateway

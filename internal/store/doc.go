// Package store provides persistence for fleetgate.
//
// The store holds six logical tables: the agent registry, four telemetry
// category snapshot rows (system_info, installed_apps, port_scan,
// task_info), per-agent USB device records, and passive scan records
// from the network scanner.
//
// Every write path is a single-statement keyed upsert:
//
//   - agents:       keyed by agent_id
//   - snapshots:    keyed by (agent_id, category) — latest wins
//   - usb_devices:  keyed by (agent_id, serial_number) — status untouched
//   - passive_scan: keyed by ip — newest created_at wins
//
// This keeps replayed payloads idempotent: the same payload applied N
// times leaves exactly one row and only advances timestamps. Concurrent
// writers for different agents never contend on the same logical row.
//
// The SQLite implementation uses modernc.org/sqlite (pure Go, no cgo)
// with WAL mode enabled.
package store

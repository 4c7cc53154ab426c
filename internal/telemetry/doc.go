// Package telemetry routes inbound agent payloads to the store and
// serves the read path for fetch requests.
//
// # Ingestion
//
// Every payload carries a declared category from a closed set:
//
//	system_info, installed_apps, port_scan, task_info, usb_devices
//
// The Router validates the envelope, refreshes the agent registry, and
// upserts the body into the matching snapshot table:
//
//	router := telemetry.NewRouter(store, logger)
//	err := router.Ingest(ctx, &telemetry.Envelope{...})
//
// The agent registry write always happens first, so a payload with a
// bad category still updates the sender's last-seen. usb_devices never
// takes this path; the session layer hands those to the USB reconciler
// before generic dispatch.
//
// # Fetch
//
// Fetch serves "latest per (agent, category)" reads for agents and the
// dashboard. A task_info fetch for a single agent is enriched with the
// hostname and OS from that agent's latest system_info snapshot; if no
// system_info exists the device context is null rather than an error.
package telemetry

// Package session owns the long-lived duplex channel between the server
// and each agent.
//
// A channel is anonymous at connect time; the first payload carrying an
// agentId binds the channel and registers it with the Manager. The source
// address is captured once at upgrade and never changes.
//
// One read loop serves each channel, so events from a single agent are
// processed strictly in arrival order while separate agents proceed
// concurrently. Three inbound events exist:
//
//   - data:  telemetry payload, routed to the telemetry router, acked
//   - usb:   connected-device report, answered with per-device verdicts
//   - fetch: read request, answered with the stored data
//
// Correlation runs over the channel itself: the requester picks an id,
// the reply echoes it. Server-initiated commands invert the flow with an
// id generated by the Manager and a pending-request channel on the Conn.
//
// Failures inside an event handler always become a reply frame. Only
// transport errors (close, idle timeout) end a channel, and that ends
// only the one agent's channel.
package session

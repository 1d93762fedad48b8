// Package connection implements the resilient connection manager.
//
// The Manager:
//   - Owns a single long-lived WebSocket connection
//   - Dials inside a retry + circuit-breaker + timeout pipeline
//   - Detects silent connection death with a heartbeat monitor
//   - Reconnects with bounded, jittered exponential backoff, one
//     reconnection at a time
//   - Delivers inbound messages to a caller-supplied handler with
//     per-message fault isolation
package connection

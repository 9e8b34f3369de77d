// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - WebSocket connections opened, active, and closed by reason
//   - Frame rates by kind in each direction
//   - Tracked probes and missed sequence numbers
//   - Open trackers and session report queue health
//
// Collectors live on a private registry served by Handler.
package metrics

// Package connection implements the echo endpoint's connection handling.
//
// The package:
//   - Accepts WebSocket upgrades and registers each connection with the
//     tracker registry before the handshake runs
//   - Runs one Session per connection on the handler's goroutine
//   - Echoes text and binary payloads, answers pings, echoes close frames
//   - Tracks {seq, ts} probe messages through the registry and logs loss
//     stats every report interval and once at termination
//
// The WebSocket protocol itself is delegated to gorilla/websocket. Sessions
// only see typed frames through the Conn interface.
package connection

// Package probe is the client side of the echo endpoint.
//
// A Prober dials the server, sends numbered {seq, ts} probes at a fixed
// interval, and matches echoes to compute round-trip time, jitter, loss, and
// gaps in the echoed sequence.
package probe

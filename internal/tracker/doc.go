// Package tracker implements per-connection sequence loss tracking.
//
// Components:
//   - Tracker: ingests probe sequence numbers and records every value
//     inferred missing between consecutive observations
//   - Registry: the single owner of all trackers, keyed by connection ID,
//     guarded by one mutex over the whole map
//   - Probe: the {seq, ts} JSON payload clients send to be tracked
//
// A Tracker has no locking of its own. Trackers held by a Registry are only
// ever touched inside the registry's critical section.
package tracker

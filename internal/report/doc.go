// Package report persists a summary row for every finished connection.
//
// Sessions hand a SessionReport to a Sink when they terminate. The Writer
// sink queues reports in a bounded buffer (oldest dropped when full) and
// batch-inserts them into the session_reports table on size or interval.
// Reports are append-only.
package report

// Package database provides the TimescaleDB connection pool used to store
// session reports.
//
// Pools are only opened when database.enabled is set. The echo path never
// touches the database; reports are written asynchronously by the report
// writer.
package database

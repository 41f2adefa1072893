// Package storage persists scheduler event definitions.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite database file
//   - "postgres": pgx connection pool
//   - "memory": process-local map, lost on restart
package storage

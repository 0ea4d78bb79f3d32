// Package storage persists conversation histories.
//
// Drivers:
//   - memory: process-local map, lost on restart
//   - file: JSON snapshot plus an append-only journal
//   - sqlite: SQLite database via the pure-Go modernc driver
package storage

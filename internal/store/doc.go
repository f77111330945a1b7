// Package store provides SQLite-backed durable storage for dashboard
// configurations and active instances.
//
// The store holds two tables:
//   - configurations: named templates (name UNIQUE, kind immutable)
//   - active_instances: one desired-state row per channel (channel_id UNIQUE)
//
// # Transaction Boundaries
//
// Every exported method runs in its own short transaction (or single
// statement). No method ever calls out to a renderer, so callers control
// where external I/O happens: read, release, render, then write.
//
// # Error Classification
//
//   - ErrNotFound: the addressed row does not exist
//   - ErrDuplicate: a UNIQUE constraint rejected the write
//   - ErrInUse: a foreign key still references the row
//   - dashboard INFRASTRUCTURE errors: database unreachable or schema missing
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: configuration references are enforced
package store

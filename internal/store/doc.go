// Package store provides SQLite-backed durable storage for the offline client.
//
// The store is a small key/value layer divided into named partitions:
//   - replica: the cached inventory snapshot
//   - queue: the pending command list (one key, replaced on every write)
//   - history: reserved for transaction history, currently unused
//
// A write is committed before the call returns, so a command reported as
// enqueued survives a crash.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The schema version lives in PRAGMA user_version and is advanced by
// migrations on Open.
package store

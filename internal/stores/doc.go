// Package stores provides Redis-backed, short-lived record stores for the
// authentication core: one-time login codes and cached access snapshots.
//
// # Design
//
// One-time codes live in a Redis hash (digest, remaining attempts, issue time)
// with a TTL. Consume runs as a single Lua script so that concurrent
// verifications can never spend the same attempt twice. A record is deleted on
// success and when its last attempt is spent.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient records.
// It does NOT generate codes, enforce cooldowns or make authentication
// decisions. Those belong to internal/limiters and internal/flows.
//
// # What this package must NOT do
//
//   - Import campusauth or any sibling internal package.
//   - Store or log plaintext codes.
package stores

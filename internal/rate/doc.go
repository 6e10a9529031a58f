// Package rate provides the Redis-backed failure counter used by every lockout
// policy in campusauth.
//
// # Window semantics
//
// Fixed-window counters: INCR + PEXPIRE on first hit. Reaching the threshold
// inside the window starts a lock and clears the window. The lock duration is
// BaseLock doubled once per remembered level, capped at MaxLock. Key layout:
//   - <prefix>:n:<key>: failures in the current window
//   - <prefix>:lk:<key>: active lock (TTL = remaining lock)
//   - <prefix>:lv:<key>: lock level memory
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
package rate

// Package campusauth is the authentication core of the college website:
// password, one-time code and Google sign-in, brute-force lockout, access
// snapshots and rotating refresh sessions with theft detection.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// campusauth is the public surface. It exposes [Engine], [Builder], [Config],
// the error sentinels with [KindOf], and value types such as [LoginResult] and
// [Principal]. Flow orchestration, counters, code storage and audit dispatch
// live under internal/ and are never exported. Transport lives in httpapi and
// middleware; durable storage in pgstore.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Perform I/O outside of Engine methods.
//   - Decide HTTP status codes. Callers map [ErrorKind] once.
//   - Log refresh secrets, codes or passwords.
//
// # Request origin
//
// Lockout and audit use the client address and user agent attached to the
// context with [WithClientIP] and [WithUserAgent].
package campusauth

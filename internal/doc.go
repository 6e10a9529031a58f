// Package internal contains helper utilities that are private to campusauth:
// refresh secret generation, one-time code generation and origin fingerprints.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for login, code issuance, rotation and logout
//   - limiters: the Gatekeeper (lockout, code cooldown, known origins)
//   - rate: Redis-backed failure counters with exponential lock levels
//   - stores: ephemeral one-time code store and access snapshot cache
//
// # What this package must NOT do
//
//   - Export types that appear in the public campusauth API.
package internal

// Package limiters provides the Gatekeeper: the brute-force guard that runs
// before every credential comparison.
//
// # Responsibilities
//
//   - Check: side-effect free lock check for an identifier and an origin.
//   - RecordFailure: counts a failure on both keys, locking with exponential
//     backoff once a threshold is crossed.
//   - RecordSuccess: clears the identifier counter and tracks known origins.
//   - CheckOTPEligibility / SetOTPCooldown: atomically claims the one-time
//     code resend window. ReleaseOTPCooldown gives it back when nothing was
//     delivered.
//
// All methods are nil-safe: calling any method on a nil receiver allows the
// request.
//
// # Architecture boundaries
//
// Counting lives in internal/rate. Audit entries for failures and lockouts are
// written by the Engine, which owns the audit dispatcher.
package limiters

// Package flows contains the orchestrators behind every Engine operation.
//
// Each Run function (RunLogin, RunRequestOTP, RunRefresh, RunLogout,
// RunValidate, RunAccountChanged) takes a typed dependency struct and returns
// a Result whose Failure kind the root package maps to a public error once.
//
// Login follows one state machine for all credential methods:
//
//	START -> GATE_CHECKED -> CREDENTIAL_VERIFIED | CREDENTIAL_REJECTED
//	CREDENTIAL_REJECTED -> LOCK_ACCOUNTING_UPDATED -> END_FAILURE
//	CREDENTIAL_VERIFIED -> SESSION_ISSUED -> END_SUCCESS
//
// Every failure path emits an audit event.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import campusauth (import cycle).
//   - Touch Redis, SQL or HTTP directly. All I/O goes through the deps.
package flows

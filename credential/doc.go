// Package credential holds the three login verifiers: password, emailed
// one-time code and Google sign-in. They share the [Verifier] interface so
// the login flow sequences them identically.
package credential

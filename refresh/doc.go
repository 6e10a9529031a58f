// Package refresh encodes the opaque refresh cookie value.
//
// The value is base64url JSON {"sid": <session uuid>, "rt": <base64url
// secret>}. Decoding is strict: unknown fields, non-canonical session ids and
// secrets of the wrong length are rejected with [ErrMalformed]. Rotation and
// reuse detection live in the session package.
package refresh

// Package session stores refresh sessions and rotates them with reuse
// detection.
//
// Every successful refresh revokes the presented session with ROTATED and
// inserts a successor that points back to it. A secret that does not match
// its session revokes the session with TOKEN_MISMATCH, so a stolen cookie
// and its legitimate owner cannot both keep refreshing.
//
// [Store] has two implementations sharing one contract: [RedisStore] here
// and the PostgreSQL store in pgstore.
package session

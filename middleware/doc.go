// Package middleware holds the echo middleware around the authentication
// engine: bearer-token guards, request origin propagation, the per-address
// edge throttle and zap request logging.
//
// [RequireAccess] delegates every decision to the engine's ValidateAccess;
// whether the session is also checked depends on the engine configuration.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Access Redis.
//   - Log tokens, cookies or Authorization headers.
package middleware

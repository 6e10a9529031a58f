package rate

import "errors"

var (
	// ErrLocked is returned by callers that translate an active lock into an error.
	ErrLocked = errors.New("rate locked")
	// ErrRedisUnavailable wraps any counter backend failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

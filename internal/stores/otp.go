package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCodeNotFound         = errors.New("one-time code not found")
	ErrCodeMismatch         = errors.New("one-time code mismatch")
	ErrCodeAttemptsExceeded = errors.New("one-time code attempts exceeded")
	ErrCodeRedisUnavailable = errors.New("one-time code redis unavailable")
)

const (
	consumeStatusNotFound int64 = 0
	consumeStatusOK       int64 = 1
	consumeStatusMismatch int64 = 2
	consumeStatusExceeded int64 = 3
)

// consumeCodeScript spends one verification attempt.
// KEYS[1] = record key
// ARGV[1] = provided code hash (hex)
//
// The record is deleted on success and when the last attempt is spent.
const consumeCodeScript = `
local stored = redis.call("HGET", KEYS[1], "h")
if not stored then
  return 0
end

local left = tonumber(redis.call("HGET", KEYS[1], "a") or "0")
if not left or left <= 0 then
  redis.call("DEL", KEYS[1])
  return 3
end

if stored == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end

left = redis.call("HINCRBY", KEYS[1], "a", -1)
if left <= 0 then
  redis.call("DEL", KEYS[1])
  return 3
end
return 2
`

var consumeCodeLua = redis.NewScript(consumeCodeScript)

// CodeStore keeps short-lived, attempt-limited one-time codes keyed by
// (channel, purpose, identifier). Only a digest of the code is stored.
type CodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewCodeStore(redisClient redis.UniversalClient, prefix string) *CodeStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &CodeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *CodeStore) key(channel, purpose, identifier string) string {
	return s.prefix + ":" + channel + ":" + purpose + ":" + strings.ToLower(strings.TrimSpace(identifier))
}

// Save replaces any outstanding code for the same key.
func (s *CodeStore) Save(
	ctx context.Context,
	channel, purpose, identifier string,
	codeHash string,
	attempts int,
	ttl time.Duration,
) error {
	if attempts <= 0 {
		return errors.New("one-time code attempts must be > 0")
	}
	if ttl <= 0 {
		return errors.New("one-time code ttl must be > 0")
	}

	key := s.key(channel, purpose, identifier)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"h", codeHash,
			"a", attempts,
			"t", time.Now().Unix(),
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
	}
	return nil
}

// Consume verifies a code and spends one attempt atomically.
func (s *CodeStore) Consume(ctx context.Context, channel, purpose, identifier, codeHash string) error {
	status, err := consumeCodeLua.Run(ctx, s.redis,
		[]string{s.key(channel, purpose, identifier)},
		codeHash,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeRedisUnavailable, err)
	}

	switch status {
	case consumeStatusOK:
		return nil
	case consumeStatusNotFound:
		return ErrCodeNotFound
	case consumeStatusMismatch:
		return ErrCodeMismatch
	case consumeStatusExceeded:
		return ErrCodeAttemptsExceeded
	default:
		return fmt.Errorf("%w: unexpected consume status %d", ErrCodeRedisUnavailable, status)
	}
}

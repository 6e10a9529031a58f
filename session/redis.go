package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRevoked  int64 = 1
	rotateStatusExpired  int64 = 2
	rotateStatusMismatch int64 = 3
	rotateStatusRotated  int64 = 4
)

// KEYS: old session, new session, user index
// ARGV: presented hash, now ms, new id, new key expiry ms, new fields...
const rotateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0}
end
local cur = redis.call("HMGET", KEYS[1], "h", "rv", "rr", "ea")
if cur[2] == "1" then
  return {1, cur[3] or ""}
end
local now = tonumber(ARGV[2])
if tonumber(cur[4]) <= now then
  return {2}
end
if cur[1] ~= ARGV[1] then
  redis.call("HSET", KEYS[1], "rv", "1", "rr", "TOKEN_MISMATCH", "ra", ARGV[2])
  return {3}
end
redis.call("HSET", KEYS[1], "rv", "1", "rr", "ROTATED", "ra", ARGV[2], "lu", ARGV[2])
redis.call("HSET", KEYS[2], unpack(ARGV, 5))
redis.call("PEXPIREAT", KEYS[2], ARGV[4])
redis.call("SADD", KEYS[3], ARGV[3])
if redis.call("PTTL", KEYS[3]) < tonumber(ARGV[4]) - now then
  redis.call("PEXPIREAT", KEYS[3], ARGV[4])
end
return {4}
`

// KEYS: session. ARGV: reason, now ms
const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "rv") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "rv", "1", "rr", ARGV[1], "ra", ARGV[2])
return 1
`

var (
	rotateLua = redis.NewScript(rotateScript)
	revokeLua = redis.NewScript(revokeScript)
)

// RedisStore keeps each session in a hash and indexes session ids per user.
// Rows outlive their expiry by the retention window so late refreshes are
// answered with ErrExpired rather than ErrNotFound.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "rs"
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisStore{
		redis:     client,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":s:" + id
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func (s *RedisStore) keyExpiry(sess *Session) time.Time {
	return sess.ExpiresAt.Add(s.retention)
}

func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.UserID == "" {
		return errors.New("session requires id and user")
	}
	expireAt := s.keyExpiry(sess)
	userKey := s.userKey(sess.UserID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(sess.ID), encodeFields(sess)...)
		pipe.PExpireAt(ctx, s.key(sess.ID), expireAt)
		pipe.SAdd(ctx, userKey, sess.ID)
		pipe.PExpireAt(ctx, userKey, expireAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeFields(id, fields)
}

func (s *RedisStore) Rotate(ctx context.Context, oldID string, presented [32]byte, next *Session, now time.Time) error {
	if next == nil || next.ID == "" {
		return errors.New("rotation requires a next session")
	}
	args := []interface{}{
		hex.EncodeToString(presented[:]),
		now.UnixMilli(),
		next.ID,
		s.keyExpiry(next).UnixMilli(),
	}
	args = append(args, encodeFields(next)...)

	res, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(oldID), s.key(next.ID), s.userKey(next.UserID)},
		args...,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) == 0 {
		return fmt.Errorf("%w: invalid rotate script response", ErrStoreUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return fmt.Errorf("%w: invalid rotate script status", ErrStoreUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return ErrNotFound
	case rotateStatusRevoked:
		reason := ""
		if len(parts) > 1 {
			reason, _ = parts[1].(string)
		}
		return fmt.Errorf("%w: %s", ErrRevoked, reason)
	case rotateStatusExpired:
		return ErrExpired
	case rotateStatusMismatch:
		return ErrTokenMismatch
	case rotateStatusRotated:
		return nil
	default:
		return fmt.Errorf("%w: unknown rotate script status", ErrStoreUnavailable)
	}
}

func (s *RedisStore) Revoke(ctx context.Context, id string, reason RevokeReason, now time.Time) error {
	_, err := revokeLua.Run(ctx, s.redis, []string{s.key(id)}, string(reason), now.UnixMilli()).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAllForUser revokes every indexed session. A session created while
// this runs stays live and indexed.
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID string, reason RevokeReason, now time.Time) (int, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.Cmd, len(ids))
	for i, id := range ids {
		cmds[i] = revokeLua.Eval(ctx, pipe, []string{s.key(id)}, string(reason), now.UnixMilli())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	revoked := 0
	for _, cmd := range cmds {
		n, err := cmd.Int64()
		if err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		revoked += int(n)
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := s.redis.SRem(ctx, userKey, members...).Err(); err != nil {
		return revoked, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return revoked, nil
}

// Ping reports Redis availability and round-trip latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func encodeFields(sess *Session) []interface{} {
	rv := "0"
	if sess.Revoked {
		rv = "1"
	}
	return []interface{}{
		"uid", sess.UserID,
		"h", hex.EncodeToString(sess.RefreshHash[:]),
		"ca", sess.CreatedAt.UnixMilli(),
		"ea", sess.ExpiresAt.UnixMilli(),
		"lu", sess.LastUsedAt.UnixMilli(),
		"rv", rv,
		"rr", string(sess.RevokedReason),
		"ra", unixMilliOrZero(sess.RevokedAt),
		"rf", sess.RotatedFrom,
		"m", sess.Method,
		"ip", sess.IP,
		"ua", sess.UserAgent,
	}
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func decodeFields(id string, f map[string]string) (*Session, error) {
	hash, err := hex.DecodeString(f["h"])
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("%w: corrupt refresh hash", ErrStoreUnavailable)
	}
	sess := &Session{
		ID:            id,
		UserID:        f["uid"],
		Revoked:       f["rv"] == "1",
		RevokedReason: RevokeReason(f["rr"]),
		RotatedFrom:   f["rf"],
		Method:        f["m"],
		IP:            f["ip"],
		UserAgent:     f["ua"],
	}
	copy(sess.RefreshHash[:], hash)

	for field, dst := range map[string]*time.Time{
		"ca": &sess.CreatedAt,
		"ea": &sess.ExpiresAt,
		"lu": &sess.LastUsedAt,
		"ra": &sess.RevokedAt,
	} {
		ms, err := strconv.ParseInt(f[field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt %s", ErrStoreUnavailable, field)
		}
		if ms > 0 {
			*dst = time.UnixMilli(ms)
		}
	}
	return sess, nil
}

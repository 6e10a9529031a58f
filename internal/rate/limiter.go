package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy describes when a counter locks and for how long.
type Policy struct {
	Threshold int
	Window    time.Duration
	BaseLock  time.Duration
	MaxLock   time.Duration
	// LevelMemory is how long a lock level is remembered after the last lock.
	// Consecutive locks inside this period double the lock duration.
	LevelMemory time.Duration
}

// Validate reports the first invalid field.
func (p Policy) Validate() error {
	if p.Threshold <= 0 {
		return errors.New("rate threshold must be > 0")
	}
	if p.Window <= 0 {
		return errors.New("rate window must be > 0")
	}
	if p.BaseLock <= 0 {
		return errors.New("rate base lock must be > 0")
	}
	if p.MaxLock < p.BaseLock {
		return errors.New("rate max lock must be >= base lock")
	}
	if p.LevelMemory < p.MaxLock {
		return errors.New("rate level memory must be >= max lock")
	}
	return nil
}

// State is the outcome of a single Increment.
type State struct {
	Failures  int
	Locked    bool
	LockedFor time.Duration
	Level     int
}

// Counter is the failure counter contract shared by every lockout policy.
type Counter interface {
	// Check returns the remaining lock duration, or zero when the key is free.
	Check(ctx context.Context, key string) (time.Duration, error)
	Increment(ctx context.Context, key string, policy Policy) (State, error)
	Reset(ctx context.Context, key string) error
}

// incrementScript counts a failure and, once the window threshold is reached,
// starts a lock whose duration doubles per remembered level.
// KEYS[1] = count, KEYS[2] = lock, KEYS[3] = level
// ARGV[1] = threshold, ARGV[2] = window ms, ARGV[3] = base lock ms,
// ARGV[4] = max lock ms, ARGV[5] = level memory ms
const incrementScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end

if count < tonumber(ARGV[1]) then
  return {count, 0, 0}
end

local level = redis.call("INCR", KEYS[3])
redis.call("PEXPIRE", KEYS[3], ARGV[5])

local lock = tonumber(ARGV[3])
local cap = tonumber(ARGV[4])
local i = 1
while i < level and lock < cap do
  lock = lock * 2
  i = i + 1
end
if lock > cap then
  lock = cap
end
lock = math.floor(lock)

redis.call("SET", KEYS[2], level, "PX", lock)
redis.call("DEL", KEYS[1])
return {count, lock, level}
`

var incrementLua = redis.NewScript(incrementScript)

// RedisCounter implements Counter on Redis keys under a shared prefix.
type RedisCounter struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCounter creates a [RedisCounter]. An empty prefix defaults to "rl".
func NewRedisCounter(redisClient redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisCounter{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (c *RedisCounter) countKey(key string) string { return c.prefix + ":n:" + key }
func (c *RedisCounter) lockKey(key string) string  { return c.prefix + ":lk:" + key }
func (c *RedisCounter) levelKey(key string) string { return c.prefix + ":lv:" + key }

// Check is side-effect free.
func (c *RedisCounter) Check(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.redis.PTTL(ctx, c.lockKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// Increment records one failure atomically.
func (c *RedisCounter) Increment(ctx context.Context, key string, policy Policy) (State, error) {
	res, err := incrementLua.Run(ctx, c.redis,
		[]string{c.countKey(key), c.lockKey(key), c.levelKey(key)},
		policy.Threshold,
		policy.Window.Milliseconds(),
		policy.BaseLock.Milliseconds(),
		policy.MaxLock.Milliseconds(),
		policy.LevelMemory.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return State{}, fmt.Errorf("%w: unexpected script result", ErrRedisUnavailable)
	}

	state := State{
		Failures: int(res[0]),
		Level:    int(res[2]),
	}
	if res[1] > 0 {
		state.Locked = true
		state.LockedFor = time.Duration(res[1]) * time.Millisecond
	}
	return state, nil
}

// Reset clears the counter, the active lock and the remembered level.
func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.countKey(key), c.lockKey(key), c.levelKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

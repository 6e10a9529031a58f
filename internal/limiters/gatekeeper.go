package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/campusauth/internal"
	"github.com/MrEthical07/campusauth/internal/rate"
	"github.com/redis/go-redis/v9"
)

// GatekeeperConfig holds the lockout and cooldown policy.
type GatekeeperConfig struct {
	Identifier     rate.Policy
	Origin         rate.Policy
	OTPCooldown    time.Duration
	KnownOriginTTL time.Duration
}

var (
	// ErrGateUnavailable indicates the counter backend is unreachable.
	ErrGateUnavailable = errors.New("gatekeeper backend unavailable")
)

// LockedError reports an active lock on an identifier or origin.
type LockedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s locked for %s", e.Scope, e.RetryAfter.Round(time.Second))
}

// CoolingDownError reports that a new one-time code cannot be issued yet.
type CoolingDownError struct {
	RetryAfter time.Duration
}

func (e *CoolingDownError) Error() string {
	return fmt.Sprintf("code cooldown active for %s", e.RetryAfter.Round(time.Second))
}

// FailureOutcome describes what a recorded failure did to the counters.
type FailureOutcome struct {
	IdentifierLocked bool
	OriginLocked     bool
	LockedFor        time.Duration
	Failures         int
}

// Gatekeeper decides whether an authentication attempt may proceed, counts
// failures per identifier and per origin, and stamps one-time code cooldowns.
type Gatekeeper struct {
	counter rate.Counter
	redis   redis.UniversalClient
	config  GatekeeperConfig
}

// NewGatekeeper creates a gatekeeper. The Redis client backs cooldown markers
// and known-origin sets; the counter backs lockouts.
func NewGatekeeper(redisClient redis.UniversalClient, counter rate.Counter, cfg GatekeeperConfig) *Gatekeeper {
	return &Gatekeeper{
		counter: counter,
		redis:   redisClient,
		config:  cfg,
	}
}

func identifierKey(identifier string) string {
	return "id:" + strings.ToLower(strings.TrimSpace(identifier))
}

func originKey(ip string) string {
	return "ip:" + strings.TrimSpace(ip)
}

func cooldownKey(identifier string) string {
	return "otpcd:" + strings.ToLower(strings.TrimSpace(identifier))
}

func knownOriginsKey(userID string) string {
	return "kor:" + userID
}

// Check fails with *LockedError when the identifier or the origin is locked.
// Empty values are skipped. Check never mutates counters.
func (g *Gatekeeper) Check(ctx context.Context, ip, identifier string) error {
	if g == nil {
		return nil
	}

	if identifier != "" {
		ttl, err := g.counter.Check(ctx, identifierKey(identifier))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrGateUnavailable, err)
		}
		if ttl > 0 {
			return &LockedError{Scope: "identifier", RetryAfter: ttl}
		}
	}

	if ip != "" {
		ttl, err := g.counter.Check(ctx, originKey(ip))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrGateUnavailable, err)
		}
		if ttl > 0 {
			return &LockedError{Scope: "origin", RetryAfter: ttl}
		}
	}

	return nil
}

// RecordFailure increments both counters.
func (g *Gatekeeper) RecordFailure(ctx context.Context, ip, identifier string) (FailureOutcome, error) {
	var out FailureOutcome
	if g == nil {
		return out, nil
	}

	if identifier != "" {
		st, err := g.counter.Increment(ctx, identifierKey(identifier), g.config.Identifier)
		if err != nil {
			return out, fmt.Errorf("%w: %v", ErrGateUnavailable, err)
		}
		out.Failures = st.Failures
		if st.Locked {
			out.IdentifierLocked = true
			out.LockedFor = st.LockedFor
		}
	}

	if ip != "" {
		st, err := g.counter.Increment(ctx, originKey(ip), g.config.Origin)
		if err != nil {
			return out, fmt.Errorf("%w: %v", ErrGateUnavailable, err)
		}
		if st.Locked {
			out.OriginLocked = true
			if st.LockedFor > out.LockedFor {
				out.LockedFor = st.LockedFor
			}
		}
	}

	return out, nil
}

// RecordSuccess clears the identifier counter and remembers the origin for
// the user. It reports whether the origin was new for a user that already had
// known origins.
func (g *Gatekeeper) RecordSuccess(ctx context.Context, userID, identifier, ip, userAgent string) (bool, error) {
	if g == nil {
		return false, nil
	}

	if identifier != "" {
		if err := g.counter.Reset(ctx, identifierKey(identifier)); err != nil {
			return false, fmt.Errorf("%w: %v", ErrGateUnavailable, err)
		}
	}

	if userID == "" || (ip == "" && userAgent == "") {
		return false, nil
	}

	key := knownOriginsKey(userID)
	member := internal.OriginFingerprint(ip, userAgent)

	var added *redis.IntCmd
	var size *redis.IntCmd
	_, err := g.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, key, member)
		size = pipe.SCard(ctx, key)
		if g.config.KnownOriginTTL > 0 {
			pipe.Expire(ctx, key, g.config.KnownOriginTTL)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrGateUnavailable, err)
	}

	return added.Val() == 1 && size.Val() > 1, nil
}

// claimCooldownScript sets the marker only when none is active. It returns 0
// on a fresh claim, otherwise the remaining lifetime in milliseconds.
const claimCooldownScript = `
if redis.call("SET", KEYS[1], "1", "NX", "PX", ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return tonumber(ARGV[1])
end
return ttl
`

var claimCooldownLua = redis.NewScript(claimCooldownScript)

// CheckOTPEligibility checks lock state and claims the resend cooldown for
// identifier. Only one of any number of concurrent callers gets through; the
// rest see *CoolingDownError. The returned duration is the claimed window.
func (g *Gatekeeper) CheckOTPEligibility(ctx context.Context, ip, identifier string) (time.Duration, error) {
	if g == nil {
		return 0, nil
	}
	if err := g.Check(ctx, ip, identifier); err != nil {
		return 0, err
	}
	return g.SetOTPCooldown(ctx, identifier)
}

// SetOTPCooldown claims the resend cooldown and returns its duration. It fails
// with *CoolingDownError while an earlier claim is still live.
func (g *Gatekeeper) SetOTPCooldown(ctx context.Context, identifier string) (time.Duration, error) {
	if g == nil || g.config.OTPCooldown <= 0 {
		return 0, nil
	}
	window := g.config.OTPCooldown.Milliseconds()
	if window < 1 {
		window = 1
	}
	remaining, err := claimCooldownLua.Run(ctx, g.redis, []string{cooldownKey(identifier)}, window).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGateUnavailable, err)
	}
	if remaining > 0 {
		return 0, &CoolingDownError{RetryAfter: time.Duration(remaining) * time.Millisecond}
	}
	return g.config.OTPCooldown, nil
}

// ReleaseOTPCooldown drops a claimed cooldown so the caller can retry at once.
// Used when no code actually went out.
func (g *Gatekeeper) ReleaseOTPCooldown(ctx context.Context, identifier string) error {
	if g == nil {
		return nil
	}
	if err := g.redis.Del(ctx, cooldownKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrGateUnavailable, err)
	}
	return nil
}

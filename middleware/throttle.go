package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// ThrottleConfig sizes the per-address token bucket.
type ThrottleConfig struct {
	PerSecond float64
	Burst     int
	// IdleTTL drops buckets of addresses not seen for this long.
	IdleTTL time.Duration
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Throttler is a per-process edge throttle keyed by client address. It sits
// in front of the Redis-backed lockout and only smooths request bursts.
type Throttler struct {
	cfg     ThrottleConfig
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewThrottler(cfg ThrottleConfig) *Throttler {
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	return &Throttler{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow takes a token for key. When none is available it returns the wait
// until the next token.
func (t *Throttler) Allow(key string) (bool, time.Duration) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(t.cfg.PerSecond), t.cfg.Burst)}
		t.buckets[key] = b
	}
	b.seen = now

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Sweep removes idle buckets. Run it periodically.
func (t *Throttler) Sweep() int {
	cutoff := t.now().Add(-t.cfg.IdleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for k, b := range t.buckets {
		if b.seen.Before(cutoff) {
			delete(t.buckets, k)
			n++
		}
	}
	return n
}

// Middleware answers 429 with Retry-After when the caller's bucket is empty.
func (t *Throttler) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if key == "" {
				key = "unknown"
			}
			ok, wait := t.Allow(key)
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
			}
			return next(c)
		}
	}
}

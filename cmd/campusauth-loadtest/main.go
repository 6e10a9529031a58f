// Command campusauth-loadtest measures session lookups and refresh rotation
// against Redis, and checks that concurrent rotations of one secret have a
// single winner.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/campusauth/session"
)

type sessionState struct {
	mu     sync.Mutex
	id     string
	hash   [32]byte
	rotate int
}

func main() {
	var (
		sessions    = flag.Int("sessions", 20000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		races       = flag.Int("races", 1000, "sessions rotated concurrently by two clients")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "rs-load", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var cleanup func()
	var client redis.UniversalClient
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := session.NewRedisStore(client, *prefix, time.Hour)

	states := make([]*sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range states {
		st := &sessionState{id: fmt.Sprintf("sid-%d", i), hash: secretHash(i, 0)}
		if err := store.Create(ctx, buildSession(st.id, "", st.hash)); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = st
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookup := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		st := states[r.Intn(len(states))]
		st.mu.Lock()
		id := st.id
		st.mu.Unlock()
		_, err := store.Get(ctx, id)
		return err
	})

	refresh := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		st := states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		st.rotate++
		nextID := fmt.Sprintf("%s.%d", st.id, st.rotate)
		next := buildSession(nextID, st.id, secretHash(len(nextID), st.rotate))
		if err := store.Rotate(ctx, st.id, st.hash, next, time.Now()); err != nil {
			return err
		}
		st.id, st.hash = nextID, next.RefreshHash
		return nil
	})

	fmt.Println("---- results ----")
	printStats("lookup", lookup)
	printStats("refresh", refresh)

	if *races > 0 {
		wins, rejected := runRaces(ctx, store, *races)
		fmt.Printf("race: sessions=%d winners=%d rejected=%d\n", *races, wins, rejected)
		if wins != int64(*races) {
			fmt.Fprintln(os.Stderr, "race: rotation produced more or fewer than one winner per session")
			os.Exit(1)
		}
	}
}

// runRaces rotates each session twice in parallel with the same secret.
func runRaces(ctx context.Context, store session.Store, n int) (wins, rejected int64) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		id := fmt.Sprintf("race-%d", i)
		hash := secretHash(i, 7)
		if err := store.Create(ctx, buildSession(id, "", hash)); err != nil {
			fmt.Fprintf(os.Stderr, "race seed failed: %v\n", err)
			os.Exit(1)
		}
		for c := 0; c < 2; c++ {
			wg.Add(1)
			go func(c int) {
				defer wg.Done()
				next := buildSession(fmt.Sprintf("%s.%d", id, c), id, secretHash(i, 100+c))
				err := store.Rotate(ctx, id, hash, next, time.Now())
				switch {
				case err == nil:
					atomic.AddInt64(&wins, 1)
				case errors.Is(err, session.ErrRevoked):
					atomic.AddInt64(&rejected, 1)
				default:
					fmt.Fprintf(os.Stderr, "race rotate: %v\n", err)
				}
			}(c)
		}
	}
	wg.Wait()
	return wins, rejected
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func buildSession(id, rotatedFrom string, hash [32]byte) *session.Session {
	now := time.Now()
	return &session.Session{
		ID:          id,
		UserID:      "u-load",
		RefreshHash: hash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(24 * time.Hour),
		LastUsedAt:  now,
		RotatedFrom: rotatedFrom,
		Method:      "password",
		IP:          "127.0.0.1",
		UserAgent:   "campusauth-loadtest",
	}
}

func secretHash(i, round int) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("secret-%d-%d", i, round)))
}

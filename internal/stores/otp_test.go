package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func attemptsLeft(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	if !mr.Exists(key) {
		return ""
	}
	return mr.HGet(key, "a")
}

func TestCodeConsumeSuccessDeletesRecord(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewCodeStore(rdb, "")
	ctx := context.Background()

	if err := store.Save(ctx, "email", "login", "Alice@College.edu", "h-123456", 3, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Consume(ctx, "email", "login", "alice@college.edu", "h-123456"); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if err := store.Consume(ctx, "email", "login", "alice@college.edu", "h-123456"); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected not found on reuse, got %v", err)
	}
}

func TestCodeAttemptsExhaustAfterBudget(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewCodeStore(rdb, "")
	ctx := context.Background()

	if err := store.Save(ctx, "email", "login", "bob@college.edu", "good", 3, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Consume(ctx, "email", "login", "bob@college.edu", "bad"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("attempt 1: expected mismatch, got %v", err)
	}
	if left := attemptsLeft(t, mr, "otp:email:login:bob@college.edu"); left != "2" {
		t.Fatalf("expected 2 attempts left, got %q", left)
	}

	if err := store.Consume(ctx, "email", "login", "bob@college.edu", "bad"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("attempt 2: expected mismatch, got %v", err)
	}
	if err := store.Consume(ctx, "email", "login", "bob@college.edu", "bad"); !errors.Is(err, ErrCodeAttemptsExceeded) {
		t.Fatalf("attempt 3: expected exhaustion, got %v", err)
	}

	// Correct code after exhaustion: the record is gone.
	if err := store.Consume(ctx, "email", "login", "bob@college.edu", "good"); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected not found after exhaustion, got %v", err)
	}
	if mr.Exists("otp:email:login:bob@college.edu") {
		t.Fatal("expected record to be deleted")
	}
}

func TestCodeExpiresWithTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewCodeStore(rdb, "")
	ctx := context.Background()

	if err := store.Save(ctx, "email", "login", "carol@college.edu", "good", 3, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	mr.FastForward(5*time.Minute + time.Second)

	if err := store.Consume(ctx, "email", "login", "carol@college.edu", "good"); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected expired code, got %v", err)
	}
}

func TestCodeSaveReplacesOutstandingCode(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewCodeStore(rdb, "")
	ctx := context.Background()

	if err := store.Save(ctx, "email", "login", "dan@college.edu", "first", 3, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Consume(ctx, "email", "login", "dan@college.edu", "wrong"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if err := store.Save(ctx, "email", "login", "dan@college.edu", "second", 3, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if left := attemptsLeft(t, mr, "otp:email:login:dan@college.edu"); left != "3" {
		t.Fatalf("expected attempt budget to reset, got %q", left)
	}
	if err := store.Consume(ctx, "email", "login", "dan@college.edu", "first"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected old code to be rejected, got %v", err)
	}
	if err := store.Consume(ctx, "email", "login", "dan@college.edu", "second"); err != nil {
		t.Fatalf("expected new code to work, got %v", err)
	}
}

func TestCodeConcurrentConsumeSingleWinner(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewCodeStore(rdb, "")
	ctx := context.Background()

	if err := store.Save(ctx, "email", "login", "erin@college.edu", "good", 3, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	const n = 12
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Consume(ctx, "email", "login", "erin@college.edu", "good")
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrCodeNotFound) {
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one success, got %d", success)
	}
}

func TestSaveRejectsInvalidBudget(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewCodeStore(rdb, "")

	if err := store.Save(context.Background(), "email", "login", "x@y.z", "h", 0, time.Minute); err == nil {
		t.Fatal("expected error for zero attempts")
	}
	if err := store.Save(context.Background(), "email", "login", "x@y.z", "h", 3, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

package lockout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCounter(t *testing.T, cfg Config) (*Counter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewCounter(rdb, cfg), mr
}

func TestLockedAfterThresholdFailures(t *testing.T) {
	counter, _ := newTestCounter(t, Config{Threshold: 5, Window: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := counter.RecordFailure(ctx, "u1"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		locked, err := counter.IsLocked(ctx, "u1")
		if err != nil {
			t.Fatalf("IsLocked failed: %v", err)
		}
		if locked {
			t.Fatalf("locked after %d failures, threshold is 5", i+1)
		}
	}

	if err := counter.RecordFailure(ctx, "u1"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	locked, err := counter.IsLocked(ctx, "u1")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if !locked {
		t.Fatal("expected account locked after 5 failures")
	}
}

func TestWindowIsNotRefreshedBySubsequentFailures(t *testing.T) {
	counter, mr := newTestCounter(t, Config{Threshold: 5, Window: 15 * time.Minute})
	ctx := context.Background()

	if err := counter.RecordFailure(ctx, "u1"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	mr.FastForward(14 * time.Minute)

	// A failure near the end of the window must not extend it.
	if err := counter.RecordFailure(ctx, "u1"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	locked, err := counter.IsLocked(ctx, "u1")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if locked {
		t.Fatal("expected counter expired with the original window")
	}
	if mr.Exists("lockout:u1") {
		t.Fatal("expected lockout key to be gone after the window")
	}
}

func TestResetClearsCounter(t *testing.T) {
	counter, _ := newTestCounter(t, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := counter.RecordFailure(ctx, "u1"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}
	if err := counter.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	locked, err := counter.IsLocked(ctx, "u1")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if locked {
		t.Fatal("expected counter cleared after reset")
	}
}

func TestConcurrentFailuresDoNotUndercount(t *testing.T) {
	counter, mr := newTestCounter(t, Config{Threshold: 5, Window: 15 * time.Minute})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = counter.RecordFailure(ctx, "u1")
		}()
	}
	wg.Wait()

	got, err := mr.Get("lockout:u1")
	if err != nil {
		t.Fatalf("lockout key missing: %v", err)
	}
	if got != "20" {
		t.Fatalf("expected counter 20, got %s", got)
	}
}

func TestAccountsAreIndependent(t *testing.T) {
	counter, _ := newTestCounter(t, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := counter.RecordFailure(ctx, "u1"); err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
	}

	locked, err := counter.IsLocked(ctx, "u2")
	if err != nil {
		t.Fatalf("IsLocked failed: %v", err)
	}
	if locked {
		t.Fatal("expected u2 unaffected by u1 failures")
	}
}

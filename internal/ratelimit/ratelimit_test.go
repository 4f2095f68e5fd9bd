package ratelimit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocalLimiter_AllowsUnderLimit(t *testing.T) {
	l := NewLocal(Config{Requests: 3, Window: time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
}

func TestLocalLimiter_BlocksThenAdmitsAfterWindow(t *testing.T) {
	l := NewLocal(Config{Requests: 1, Window: 20 * time.Millisecond, MaxWait: time.Second})
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("second call returned too fast (%v), should have waited out the window", elapsed)
	}
}

func TestLocalLimiter_FailsWhenWaitExceedsCeiling(t *testing.T) {
	l := NewLocal(Config{Requests: 1, Window: time.Hour, MaxWait: 5 * time.Millisecond})
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}
	err := l.Wait(ctx)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestLocalLimiter_RespectsContextCancellation(t *testing.T) {
	l := NewLocal(Config{Requests: 1, Window: time.Hour, MaxWait: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}

	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// testRedisAddr returns the test Redis address from the environment, or
// skips the test if STREAMINTEL_TEST_REDIS_ADDR is not set.
func testRedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("STREAMINTEL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STREAMINTEL_TEST_REDIS_ADDR not set — skipping Redis rate limiter integration tests")
	}
	return addr
}

func TestRedisLimiter_EnforcesSharedLimit(t *testing.T) {
	addr := testRedisAddr(t)
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	t.Cleanup(func() { client.Del(ctx, "streamintel:ratelimit:bucket:test") })

	l := NewRedis(client, "test", Config{Requests: 2, Window: 200 * time.Millisecond, MaxWait: time.Second})

	for i := 0; i < 2; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	start := time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("third call: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("third call returned too fast (%v), should have waited for a slot", elapsed)
	}
}

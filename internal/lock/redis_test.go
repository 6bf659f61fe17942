package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.io/infrasutra/gigdesk/internal/testutil"
)

// newTestRedisLocker connects to REDIS_ADDR, skipping when it is unset.
func newTestRedisLocker(t *testing.T) *RedisLocker {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	rdb := NewRedisClient(RedisOptions{Addr: addr, Password: os.Getenv("REDIS_PASSWORD"), DB: db})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	l := NewRedisLocker(rdb, testutil.NewLogger())
	l.prefix = fmt.Sprintf("gigdesk:test:%d:", time.Now().UnixNano())
	return l
}

func TestRedisLockerExcludesUntilReleased(t *testing.T) {
	ctx := context.Background()
	l := newTestRedisLocker(t)

	release, err := l.Acquire(ctx, "inbox:a", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "inbox:a", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	other, err := l.Acquire(ctx, "inbox:b", time.Minute)
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
	defer other()

	release()
	release()

	again, err := l.Acquire(ctx, "inbox:a", time.Minute)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	again()
}

func TestRedisLockerStaleReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	l := newTestRedisLocker(t)

	stale, err := l.Acquire(ctx, "inbox:a", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(250 * time.Millisecond)

	current, err := l.Acquire(ctx, "inbox:a", time.Minute)
	if err != nil {
		t.Fatalf("expired lock not taken over: %v", err)
	}
	defer current()

	stale()
	if _, err := l.Acquire(ctx, "inbox:a", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("stale release dropped the new holder's lock: %v", err)
	}
}

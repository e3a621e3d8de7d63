package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/starford/tariffsync/internal/apperr"
)

func TestNop(t *testing.T) {
	release, err := Nop{}.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	release()
	release()
}

func TestRedis_Exclusive(t *testing.T) {
	url := os.Getenv("TARIFFSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TARIFFSYNC_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	key := "tariffsync:test:" + uuid.NewString()

	a, err := NewRedis(ctx, url, key, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewRedis(ctx, url, key, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	release, err := a.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Acquire(ctx); !errors.Is(err, apperr.ErrRunInProgress) {
		t.Fatalf("second acquire err = %v, want ErrRunInProgress", err)
	}
	release()

	releaseB, err := b.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	releaseB()

	releaseA, err := a.Acquire(ctx)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	releaseA()
}

func TestRedis_RenewsWhileHeld(t *testing.T) {
	url := os.Getenv("TARIFFSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TARIFFSYNC_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	key := "tariffsync:test:" + uuid.NewString()
	ttl := 300 * time.Millisecond

	a, err := NewRedis(ctx, url, key, ttl)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := NewRedis(ctx, url, key, ttl)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	release, err := a.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * ttl)

	if _, err := b.Acquire(ctx); !errors.Is(err, apperr.ErrRunInProgress) {
		t.Fatalf("acquire while held err = %v, want ErrRunInProgress", err)
	}
	if pttl := a.client.PTTL(ctx, key).Val(); pttl <= 0 {
		t.Fatalf("PTTL = %v, want a live expiry", pttl)
	}
	release()

	if n := a.client.Exists(ctx, key).Val(); n != 0 {
		t.Fatalf("key still present after release")
	}
	releaseB, err := b.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	releaseB()
}

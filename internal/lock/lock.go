// Package lock provides the run lock that keeps two processes from syncing
// the same store at once.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/starford/tariffsync/internal/apperr"
)

// DefaultTTL bounds how long a crashed holder can block other runs.
const DefaultTTL = 2 * time.Hour

// Locker acquires an exclusive run lock. The returned release func is safe
// to call more than once.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Nop is the single-process locker; runservice already serializes runs
// within one process.
type Nop struct{}

func (Nop) Acquire(context.Context) (func(), error) { return func() {}, nil }

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript extends the expiry only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Redis is a Locker backed by SET NX with an expiry.
type Redis struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedis connects to url and checks the connection.
func NewRedis(ctx context.Context, url, key string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, key: key, ttl: ttl}, nil
}

// Acquire takes the lock or fails with apperr.ErrRunInProgress.
func (r *Redis) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, apperr.ErrRunInProgress
	}
	hbCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go r.heartbeat(hbCtx, token, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
			// On failure the key still expires after ttl.
			_ = releaseScript.Run(context.Background(), r.client, []string{r.key}, token).Err()
		})
	}, nil
}

// heartbeat pushes the expiry forward every ttl/3 until ctx is cancelled or
// the key no longer holds token.
func (r *Redis) heartbeat(ctx context.Context, token string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(max(r.ttl/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, r.client, []string{r.key}, token, r.ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("run lock renewal failed", slog.String("key", r.key), slog.String("error", err.Error()))
				continue
			}
			if n == 0 {
				slog.Error("run lock lost", slog.String("key", r.key))
				return
			}
		}
	}
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

package locking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockLost is reported when a release finds the key owned by someone else,
// which means the TTL ran out while the lock was held.
var ErrLockLost = errors.New("locking: lock no longer owned")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisOptions tunes a Redis locker.
type RedisOptions struct {
	// Prefix is prepended to every key. Defaults to "scheduler:lock:".
	Prefix string
	// TTL bounds how long a crashed holder can block others. Defaults to 30s.
	TTL time.Duration
	// RetryInterval is the wait between acquisition attempts. Defaults to 50ms.
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// Redis is a Locker backed by SET NX with a random token per holder.
type Redis struct {
	client        redis.UniversalClient
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
}

// NewRedis returns a Redis locker using client.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "scheduler:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 50 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Redis{
		client:        client,
		prefix:        opts.Prefix,
		ttl:           opts.TTL,
		retryInterval: opts.RetryInterval,
		logger:        opts.Logger.With("component", "redis_lock"),
	}
}

// Lock polls SET NX until it succeeds or ctx is done. The key is renewed
// every third of the TTL until the returned release func runs.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := r.acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go r.keepAlive(ctx, lock, stop, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed
			// Release even when the request context is already cancelled.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				r.logger.WarnContext(ctx, "failed to release lock", "key", lock.key, "error", err)
			}
		})
	}, nil
}

func (r *Redis) keepAlive(ctx context.Context, lock *Held, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := max(r.ttl/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		extendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interval)
		err := lock.Extend(extendCtx, r.ttl)
		cancel()
		if errors.Is(err, ErrLockLost) {
			r.logger.WarnContext(ctx, "lock expired while held", "key", lock.key)
			return
		}
		if err != nil {
			r.logger.WarnContext(ctx, "failed to renew lock", "key", lock.key, "error", err)
		}
	}
}

func (r *Redis) acquire(ctx context.Context, key string) (*Held, error) {
	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()

	for {
		lock, err := r.TryLock(ctx, key)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			return lock, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryLock makes a single acquisition attempt. It returns nil without an
// error when another holder owns key.
func (r *Redis) TryLock(ctx context.Context, key string) (*Held, error) {
	token := uuid.NewString()
	full := r.prefix + key

	acquired, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("locking: acquire %s: %w", full, err)
	}
	if !acquired {
		return nil, nil
	}
	return &Held{client: r.client, key: full, token: token, ttl: r.ttl}, nil
}

// Held is one acquired Redis lock.
type Held struct {
	client redis.UniversalClient
	key    string
	token  string
	ttl    time.Duration
}

// Key returns the full Redis key.
func (h *Held) Key() string { return h.key }

// Token returns the holder's random token.
func (h *Held) Token() string { return h.token }

// Release deletes the key if this holder still owns it.
func (h *Held) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, h.client, []string{h.key}, h.token).Int64()
	if err != nil {
		return fmt.Errorf("locking: release %s: %w", h.key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Extend pushes the expiry out to ttl from now if this holder still owns the key.
func (h *Held) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, h.client, []string{h.key}, h.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("locking: extend %s: %w", h.key, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	h.ttl = ttl
	return nil
}

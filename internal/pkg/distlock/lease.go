package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease is a held-for-a-while ownership claim on a key. A process that
// holds the lease for a user is the only one allowed to act for that user.
type Lease interface {
	// Acquire returns true when the lease is now held by this instance,
	// either newly or by renewal.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lease up if this instance still owns it.
	Release(ctx context.Context) error
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLease implements Lease with SET NX + TTL and an ownership token.
type RedisLease struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return &RedisLease{
		client: client,
		key:    "lease:" + key,
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire takes the lease if it is free and renews it if we already own it.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if ok {
		return true, nil
	}
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease %s: %w", l.key, err)
	}
	return n == 1, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}

// Local always succeeds. Used when no Redis is configured and the process
// is the only one running loops.
type Local struct{}

func (Local) Acquire(context.Context) (bool, error) { return true, nil }
func (Local) Release(context.Context) error         { return nil }

// Factory builds the lease for a user's loop.
type Factory func(user string) Lease

// NewFactory returns Redis-backed leases when client is non-nil and Local
// leases otherwise.
func NewFactory(client *redis.Client, ttl time.Duration) Factory {
	if client == nil {
		return func(string) Lease { return Local{} }
	}
	return func(user string) Lease {
		return NewRedisLease(client, "automation:"+user, ttl)
	}
}

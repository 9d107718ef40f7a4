// Package lock keeps two dispatcher runs from working the same batch of
// campaigns at once.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker is a non-blocking mutual exclusion primitive.
type Locker interface {
	// Acquire returns false without waiting when the lock is held elsewhere.
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	// Extend pushes the expiry of a held lock out by its full TTL.
	Extend(ctx context.Context) error
}

// ErrNotHeld is returned by Extend when the lock expired or was never taken.
var ErrNotHeld = errors.New("lock not held")

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

// RedisLock provides distributed locking via Redis using SET NX with TTL.
// Each acquisition stores a random token so a process can only release a
// lock it still owns.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		ttl:    ttl,
	}
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return false, err
	}
	token := hex.EncodeToString(b)

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if ok {
		l.mu.Lock()
		l.token = token
		l.mu.Unlock()
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return nil
	}
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Result()
	return err
}

// Extend renews the TTL for long-running operations, only while this
// process still owns the key.
func (l *RedisLock) Extend(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()

	if token == "" {
		return ErrNotHeld
	}
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// LocalLock guards a single process.
type LocalLock struct {
	mu   sync.Mutex
	held bool
}

func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

func (l *LocalLock) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *LocalLock) Extend(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return ErrNotHeld
	}
	return nil
}

func (l *LocalLock) Release(context.Context) error {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
	return nil
}

// NewFromURL returns a RedisLock when redisURL is set and a LocalLock
// otherwise. The returned close func releases the Redis client.
func NewFromURL(ctx context.Context, redisURL, key string, ttl time.Duration) (Locker, func() error, error) {
	if redisURL == "" {
		return NewLocalLock(), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisLock(client, key, ttl), client.Close, nil
}

var (
	_ Locker = (*RedisLock)(nil)
	_ Locker = (*LocalLock)(nil)
)

// Package lock serializes work on a single key across requests and instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when another holder keeps the key past the retry budget.
var ErrBusy = errors.New("lock is held by another worker")

type Locker interface {
	// Acquire blocks until key is held or ctx ends. The returned func releases it.
	Acquire(ctx context.Context, key string) (func(), error)
}

type RedisLocker struct {
	rs     *redsync.Redsync
	prefix string
	expiry time.Duration
	tries  int
}

func NewRedisLocker(rdb *redis.Client, expiry time.Duration, tries int) *RedisLocker {
	if expiry <= 0 {
		expiry = time.Minute
	}
	if tries <= 0 {
		tries = 32
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(rdb)),
		prefix: "crate:lock:",
		expiry: expiry,
		tries:  tries,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(
		l.prefix+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w (%v)", key, ErrBusy, err)
	}

	return func() {
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			log.Warnf("failed to release lock %s: %v", key, err)
		}
	}, nil
}

// LocalLocker is an in-process keyed mutex used when redis is not configured.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, e, true) })
	}, nil
}

func (l *LocalLocker) release(key string, e *entry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

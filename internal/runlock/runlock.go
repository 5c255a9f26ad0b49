// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package runlock keeps two comparer processes from running over the same
// catalog at once. The lock lives in Redis as a SETNX key with a TTL.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/OnlyFart/ElsParsers/pkg/types"
)

var (
	// ErrNotAcquired is returned when another process holds the lock.
	ErrNotAcquired = errors.New("run lock held by another process")
	// ErrNotHeld is returned when releasing a lock that expired or was taken over.
	ErrNotHeld = errors.New("run lock not held")
)

const keyPrefix = "els-comparer:run:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Key returns the lock key for a catalog collection.
func Key(collection string) string {
	return keyPrefix + collection
}

// Lock is a held run lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker acquires run locks.
type Locker interface {
	Acquire(ctx context.Context, collection string) (Lock, error)
	Close() error
}

// New returns a RedisLocker when cfg.Enabled, otherwise Nop.
func New(cfg types.LockConfig, logger *zap.Logger) Locker {
	if !cfg.Enabled {
		return Nop{}
	}
	return NewRedisLocker(cfg, logger)
}

// RedisLocker acquires locks with SET NX PX.
type RedisLocker struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLocker connects lazily to cfg.Addr.
func NewRedisLocker(cfg types.LockConfig, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisLocker{rdb: rdb, ttl: ttl, logger: logger.Named("runlock")}
}

// Acquire takes the lock for collection or fails with ErrNotAcquired.
func (l *RedisLocker) Acquire(ctx context.Context, collection string) (Lock, error) {
	key := Key(collection)
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquiring %s: %w", key, ErrNotAcquired)
	}

	l.logger.Info("acquired run lock", zap.String("key", key), zap.Duration("ttl", l.ttl))
	return &redisLock{locker: l, key: key, token: token}, nil
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

type redisLock struct {
	locker *RedisLocker
	key    string
	token  string
}

func (lock *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, lock.locker.rdb, []string{lock.key}, lock.token).Int64()
	if err != nil {
		return fmt.Errorf("releasing %s: %w", lock.key, err)
	}
	if n == 0 {
		return fmt.Errorf("releasing %s: %w", lock.key, ErrNotHeld)
	}
	lock.locker.logger.Info("released run lock", zap.String("key", lock.key))
	return nil
}

// Nop grants every lock.
type Nop struct{}

func (Nop) Acquire(context.Context, string) (Lock, error) { return nopLock{}, nil }
func (Nop) Close() error { return nil }

type nopLock struct{}

func (nopLock) Release(context.Context) error { return nil }

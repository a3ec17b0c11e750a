// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package redsync implements timeout.Locker over github.com/RichardKnop/redsync,
// giving a horizontally-scaled coordinator a cross-instance mutual-exclusion
// lock per ceremony so two Timeout Controller instances never evict the
// same stuck contributor twice.
package redsync

import (
	"context"
	"time"

	"github.com/RichardKnop/redsync"
	"github.com/cockroachdb/errors"
	goredis "github.com/go-redis/redis"

	"github.com/ethereum/zk-ceremony-coordinator/internal/cerrors"
)

// Locker adapts redsync.Redsync to ceremony/timeout.Locker.
type Locker struct {
	rs  *redsync.Redsync
	ttl time.Duration
}

// New builds a Locker against a single Redis instance at addr. Production
// deployments that run Redis Sentinel/Cluster should construct multiple
// redis.Pool instances and pass all of them to redsync.New instead; a
// single pool is sufficient for the coordinator's one-writer-per-ceremony
// locking need.
func New(addr string, ttl time.Duration) *Locker {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	pool := redsync.NewPool(client)
	return &Locker{rs: redsync.New([]redsync.Pool{pool}), ttl: ttl}
}

// Lock acquires a named mutex, returning an unlock func.
func (l *Locker) Lock(ctx context.Context, key string) (func(context.Context), error) {
	mutex := l.rs.NewMutex(key, redsync.SetExpiry(l.ttl))
	if err := mutex.Lock(); err != nil {
		return nil, cerrors.Internal(errors.Wrapf(err, "redsync: lock %q", key))
	}
	return func(context.Context) { mutex.Unlock() }, nil
}

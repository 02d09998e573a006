// SPDX-License-Identifier: MIT

package state

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a best-effort single-holder lock used to ensure only one replica
// runs a given background loop (watchdog, observer, dispatcher). Losing the
// lease is an expected event; holders check Held before acting and simply
// idle until re-acquired.
type Lease struct {
	store *Store
	key   string
	id    string
	ttl   time.Duration
}

// NewLease prepares a lease on lease:<name> with the given ttl.
func NewLease(store *Store, name string, ttl time.Duration) *Lease {
	return &Lease{
		store: store,
		key:   "lease:" + name,
		id:    uuid.NewString(),
		ttl:   ttl,
	}
}

// TryAcquire attempts to take or refresh the lease. It returns true when
// this instance holds the lease after the call.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.store.SetNX(ctx, l.key, l.id, l.ttl)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	held, err := l.Held(ctx)
	if err != nil {
		return false, err
	}
	if held {
		// Refresh the ttl while we keep holding it.
		if err := l.store.Expire(ctx, l.key, l.ttl); err != nil {
			return false, err
		}
	}
	return held, nil
}

// Held reports whether this instance currently owns the lease.
func (l *Lease) Held(ctx context.Context) (bool, error) {
	val, ok, err := l.store.Get(ctx, l.key)
	if err != nil {
		return false, err
	}
	return ok && val == l.id, nil
}

// Release gives the lease up if this instance holds it. The check-and-delete
// runs as a script so a competing holder's lease is never removed.
var leaseRelease = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Release drops the lease when held by this instance.
func (l *Lease) Release(ctx context.Context) error {
	return leaseRelease.Run(ctx, l.store.rdb, []string{l.key}, l.id).Err()
}

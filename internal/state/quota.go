// SPDX-License-Identifier: MIT

package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuotaState mirrors the per-principal counters kept under quota:<id>.
type QuotaState struct {
	Queued   int64 // songs currently in the user queue
	Lifetime int64 // monotonic add-request counter
}

// Reservation outcomes from the quota script.
const (
	quotaOK       = "ok"
	quotaLifetime = "lifetime"
	quotaQueued   = "queued"
)

// ErrQuotaLifetime and ErrQuotaQueued signal which bound rejected an
// admission. Callers translate them into the API error taxonomy.
var (
	ErrQuotaLifetime = fmt.Errorf("state: lifetime add quota exhausted")
	ErrQuotaQueued   = fmt.Errorf("state: queue bound reached")
)

// quotaReserve checks both bounds and increments both counters as one atomic
// step, so concurrent admissions can never push a principal past its limits.
// The lifetime bound is checked first: it is the tighter, non-recoverable one.
var quotaReserve = redis.NewScript(`
local lifetime = tonumber(redis.call('HGET', KEYS[1], 'lifetime') or '0')
local queued = tonumber(redis.call('HGET', KEYS[1], 'queued') or '0')
if lifetime >= tonumber(ARGV[1]) then return 'lifetime' end
if queued >= tonumber(ARGV[2]) then return 'queued' end
redis.call('HINCRBY', KEYS[1], 'lifetime', 1)
redis.call('HINCRBY', KEYS[1], 'queued', 1)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 'ok'
`)

// quotaKey builds the per-principal counter key.
func quotaKey(principalID string) string { return "quota:" + principalID }

// ReserveQuota atomically claims one queue slot and one lifetime add for the
// principal, enforcing both bounds.
func (s *Store) ReserveQuota(ctx context.Context, principalID string, maxLifetime, maxQueued int64, ttl time.Duration) error {
	res, err := quotaReserve.Run(ctx, s.rdb,
		[]string{quotaKey(principalID)},
		maxLifetime, maxQueued, int64(ttl.Seconds()),
	).Text()
	if err != nil {
		return fmt.Errorf("state: reserve quota: %w", err)
	}
	switch res {
	case quotaOK:
		return nil
	case quotaLifetime:
		return ErrQuotaLifetime
	case quotaQueued:
		return ErrQuotaQueued
	default:
		return fmt.Errorf("state: reserve quota: unexpected result %q", res)
	}
}

// UnreserveQuota rolls back a reservation whose admission did not complete.
// Both counters are decremented: a failed admission leaves no durable trace.
func (s *Store) UnreserveQuota(ctx context.Context, principalID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, quotaKey(principalID), "lifetime", -1)
	pipe.HIncrBy(ctx, quotaKey(principalID), "queued", -1)
	_, err := pipe.Exec(ctx)
	return err
}

// ReleaseQueued decrements only the queued counter (song deleted or played
// out). The lifetime counter is monotonic and never decremented here.
func (s *Store) ReleaseQueued(ctx context.Context, principalID string) error {
	return s.rdb.HIncrBy(ctx, quotaKey(principalID), "queued", -1).Err()
}

// Quota reads the current counters for a principal.
func (s *Store) Quota(ctx context.Context, principalID string) (QuotaState, error) {
	vals, err := s.rdb.HMGet(ctx, quotaKey(principalID), "queued", "lifetime").Result()
	if err != nil {
		return QuotaState{}, err
	}
	var q QuotaState
	q.Queued = hashInt(vals[0])
	q.Lifetime = hashInt(vals[1])
	return q, nil
}

func hashInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	_, _ = fmt.Sscan(s, &n)
	return n
}

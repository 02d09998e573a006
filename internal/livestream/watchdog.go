// SPDX-License-Identifier: MIT

package livestream

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mpetters/radiod/internal/state"
)

// Watchdog periodically enforces the streaming time limit. It holds a State
// Store lease so that with multiple replicas only one instance kicks.
type Watchdog struct {
	arbiter  *Arbiter
	lease    *state.Lease
	interval time.Duration
	logger   zerolog.Logger
}

// NewWatchdog builds the watchdog loop around an arbiter.
func NewWatchdog(arbiter *Arbiter, st *state.Store, interval time.Duration, logger zerolog.Logger) *Watchdog {
	return &Watchdog{
		arbiter:  arbiter,
		lease:    state.NewLease(st, "watchdog", 3*interval),
		interval: interval,
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled. Losing the lease suspends enforcement
// until it is re-acquired; errors never stop the loop.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.lease.Release(releaseCtx)
	}()

	w.logger.Info().Dur("interval", w.interval).Msg("watchdog started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			held, err := w.lease.TryAcquire(ctx)
			if err != nil {
				w.logger.Warn().Err(err).Msg("watchdog lease acquisition failed")
				continue
			}
			if !held {
				continue
			}
			if err := w.arbiter.enforceLimit(ctx); err != nil {
				w.logger.Error().Err(err).Msg("limit enforcement pass failed")
			}
		}
	}
}

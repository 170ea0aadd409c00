package orchestrator

import (
	"context"
	"fmt"
	"time"

	"server/internal/infra"
	"server/internal/providers"
)

// Poller drives bounded, fixed-interval status polling for providers with no
// webhook support. Each sleep is a cooperative wait on the injected clock, so
// many jobs can poll concurrently without blocking anything.
type Poller struct {
	interval    time.Duration
	maxAttempts int
	clock       Clock
	reconciler  *Reconciler
	logger      infra.Logger
}

// NewPoller constructs a Poller. A nil clock means the wall clock.
func NewPoller(interval time.Duration, maxAttempts int, clock Clock, reconciler *Reconciler, logger infra.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Poller{
		interval:    interval,
		maxAttempts: maxAttempts,
		clock:       clock,
		reconciler:  reconciler,
		logger:      logger,
	}
}

// PollUntilDone polls the adapter until the task reaches a terminal status
// or the attempt budget runs out, feeding the result through the reconciler.
// Transient status-check errors count against the budget the same as a task
// that is still running; provider-reported failures are terminal and never
// retried. Budget exhaustion reconciles a poll-timeout failure.
func (p *Poller) PollUntilDone(ctx context.Context, adapter providers.Adapter, ref JobRef) (Result, error) {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-p.clock.After(p.interval):
			}
		}

		status, err := adapter.CheckStatus(ctx, ref.Handle)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			p.logger.Warn().Err(err).
				Str("handle", ref.Handle).
				Int("attempt", attempt).
				Msg("poll: transient status check error")
			continue
		}

		switch status.Kind {
		case providers.StatusRunning:
			continue
		case providers.StatusSucceeded, providers.StatusFailed:
			return p.reconciler.Reconcile(ctx, ref, *status.Outcome)
		}
	}

	p.logger.Warn().
		Str("handle", ref.Handle).
		Int("attempts", p.maxAttempts).
		Msg("poll: attempt budget exhausted")
	return p.reconciler.Reconcile(ctx, ref, providers.Outcome{
		ErrorReason: fmt.Sprintf("generation did not finish within %d status checks", p.maxAttempts),
	})
}

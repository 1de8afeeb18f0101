package run

import (
	"context"
	"time"
)

// monitor is the failure-handling loop: it reclaims expired leases, retires
// silent agents, enforces the budget and detects completion.
func (r *Run) monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := r.startedAt.Add(r.budget)

	// A run with an empty selection is complete before the first tick.
	if r.Queue.Complete() {
		r.finish(ctx)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			r.Queue.ExpireLeases(ctx, now)
			r.Queue.SweepAgents(ctx, now)

			if now.After(deadline) && !r.Queue.Aborted() {
				r.logger.Warn("budget exceeded", "budget", r.budget.String())
				r.Queue.Abort()
			}

			if r.Queue.Complete() {
				r.finish(ctx)
				return
			}
		}
	}
}


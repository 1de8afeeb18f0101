// Package agent implements the worker loop: lease a batch, execute it via the
// external test runner, report results, repeat until the queue drains.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/seantiz/splay/internal/model"
	"github.com/seantiz/splay/internal/queue"
	"github.com/seantiz/splay/internal/runner"
)

// Lease pairs a claimed batch with the resolved test cases it contains.
type Lease struct {
	Batch *model.Batch     `json:"batch"`
	Tests []model.TestCase `json:"tests"`
}

// QueueClient is the agent's view of the work queue, whether in-process or
// across the coordinator's HTTP boundary. Implementations translate their
// transport's failure modes into the queue sentinel errors.
type QueueClient interface {
	Lease(ctx context.Context, agentID string) (*Lease, error)
	Ack(ctx context.Context, batchID, agentID string, results []model.RunResult) error
	ExtendLease(ctx context.Context, batchID, agentID string) error
	Heartbeat(ctx context.Context, agentID string) error
}

const (
	defaultPollInterval      = 2 * time.Second
	defaultHeartbeatInterval = 15 * time.Second
	defaultExtendInterval    = 30 * time.Second
)

// Agent runs the worker loop for one worker identity.
type Agent struct {
	ID     string
	Client QueueClient
	Runner runner.Runner
	Logger *slog.Logger

	// PollInterval is the wait between lease attempts when the queue has
	// nothing pending but work may still be requeued.
	PollInterval time.Duration

	// HeartbeatInterval paces the background liveness signal.
	HeartbeatInterval time.Duration

	// ExtendInterval paces lease renewal while a batch is executing.
	ExtendInterval time.Duration
}

// Run executes the worker loop until the queue reports drained, this agent is
// retired, or ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if a.PollInterval <= 0 {
		a.PollInterval = defaultPollInterval
	}
	if a.HeartbeatInterval <= 0 {
		a.HeartbeatInterval = defaultHeartbeatInterval
	}
	if a.ExtendInterval <= 0 {
		a.ExtendInterval = defaultExtendInterval
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go a.heartbeatLoop(hbCtx)

	for {
		lease, err := a.Client.Lease(ctx, a.ID)
		switch {
		case errors.Is(err, queue.ErrDrained):
			a.Logger.Info("queue drained, stopping", "agent_id", a.ID)
			return nil
		case errors.Is(err, queue.ErrAgentDead):
			a.Logger.Warn("agent retired by coordinator", "agent_id", a.ID)
			return nil
		case errors.Is(err, queue.ErrNoWork):
			if err := sleep(ctx, a.PollInterval); err != nil {
				return err
			}
			continue
		case err != nil:
			// Transient transport failure: back off and retry. The lease
			// protocol makes a lost response safe, the batch just expires.
			a.Logger.Warn("lease failed", "agent_id", a.ID, "error", err)
			if err := sleep(ctx, a.PollInterval); err != nil {
				return err
			}
			continue
		}

		a.executeBatch(ctx, lease)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// executeBatch runs every test in the lease and acks the collected results.
// A runner crash abandons the batch without an ack: the lease expires and the
// failure handler hands the batch to another agent.
func (a *Agent) executeBatch(ctx context.Context, lease *Lease) {
	batch := lease.Batch
	a.Logger.Info("batch leased",
		"agent_id", a.ID,
		"batch_id", batch.ID,
		"tests", len(lease.Tests),
		"attempt", batch.AttemptCount,
	)

	extendCtx, stopExtend := context.WithCancel(ctx)
	defer stopExtend()
	go a.extendLoop(extendCtx, batch.ID)

	results := make([]model.RunResult, 0, len(lease.Tests))
	for _, tc := range lease.Tests {
		res, err := a.Runner.Run(ctx, tc)
		if err != nil {
			a.Logger.Error("batch crashed, abandoning without ack",
				"agent_id", a.ID,
				"batch_id", batch.ID,
				"test_id", tc.ID,
				"error", err,
			)
			return
		}
		// A failing or erroring test is a valid result, not a lost batch.
		results = append(results, res)
	}

	if err := a.Client.Ack(ctx, batch.ID, a.ID, results); err != nil {
		if errors.Is(err, queue.ErrStaleAck) {
			a.Logger.Warn("ack rejected as stale", "agent_id", a.ID, "batch_id", batch.ID)
			return
		}
		a.Logger.Error("ack failed", "agent_id", a.ID, "batch_id", batch.ID, "error", err)
		return
	}

	a.Logger.Info("batch completed",
		"agent_id", a.ID,
		"batch_id", batch.ID,
		"results", len(results),
	)
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Client.Heartbeat(ctx, a.ID); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Warn("heartbeat failed", "agent_id", a.ID, "error", err)
			}
		}
	}
}

func (a *Agent) extendLoop(ctx context.Context, batchID string) {
	ticker := time.NewTicker(a.ExtendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Client.ExtendLease(ctx, batchID, a.ID); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Warn("lease extension failed",
					"agent_id", a.ID, "batch_id", batchID, "error", err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

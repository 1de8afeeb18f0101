package agent

import (
	"context"

	"github.com/seantiz/splay/internal/model"
	"github.com/seantiz/splay/internal/run"
)

// Compile-time interface satisfaction check.
var _ QueueClient = (*LocalClient)(nil)

// LocalClient serves a run's queue in-process, for single-machine runs where
// agents are goroutines rather than separate worker processes.
type LocalClient struct {
	Run *run.Run
}

func (c *LocalClient) Lease(ctx context.Context, agentID string) (*Lease, error) {
	b, err := c.Run.Queue.Lease(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &Lease{
		Batch: b,
		Tests: c.Run.ResolveTests(b.TestIDs),
	}, nil
}

func (c *LocalClient) Ack(ctx context.Context, batchID, agentID string, results []model.RunResult) error {
	return c.Run.Queue.Ack(ctx, batchID, agentID, results)
}

func (c *LocalClient) ExtendLease(ctx context.Context, batchID, agentID string) error {
	return c.Run.Queue.ExtendLease(ctx, batchID, agentID)
}

func (c *LocalClient) Heartbeat(ctx context.Context, agentID string) error {
	return c.Run.Queue.Heartbeat(ctx, agentID)
}

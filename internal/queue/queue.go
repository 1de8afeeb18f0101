// Package queue implements the lease-based work queue at the center of a run.
//
// The queue is the only shared mutable resource between agents: every
// mutating operation runs under one mutex, which gives the lease/ack/requeue
// triad on a single batch its mutual-exclusion guarantee. State is
// authoritative in memory and written through to the store for inspection
// and post-run history.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/splay/internal/model"
	"github.com/seantiz/splay/internal/store"
)

var (
	// ErrNoWork means nothing is pending right now but leased batches may
	// still be requeued; the agent should poll again.
	ErrNoWork = errors.New("no work available")

	// ErrDrained means no batch will ever be leased again: every batch is
	// terminal or the run was aborted. The agent should stop.
	ErrDrained = errors.New("queue drained")

	// ErrStaleAck marks an ack or extension from a non-owner or for a batch
	// no longer leased. Benign: a straggler reported after reassignment.
	ErrStaleAck = errors.New("stale ack")

	// ErrUnknownBatch is returned for a batch id the queue has never seen.
	ErrUnknownBatch = errors.New("unknown batch")

	// ErrAgentDead refuses work to an agent already declared dead. Death is
	// sticky for the run; a restarted worker registers under a new identity.
	ErrAgentDead = errors.New("agent marked dead")
)

// ResultSink receives per-test results as batches are acknowledged.
type ResultSink interface {
	Record(res model.RunResult)
}

// Options tunes lease and failure handling for one queue instance.
type Options struct {
	LeaseTTL         time.Duration
	MaxAttempts      int
	HeartbeatTimeout time.Duration
}

// Queue is the concurrent-safe store of pending, leased and completed work
// for a single run. One instance per run, never shared across runs.
type Queue struct {
	mu      sync.Mutex
	runID   string
	batches []*model.Batch
	byID    map[string]*model.Batch
	agents  map[string]*model.Agent
	aborted bool

	opts   Options
	store  store.Store
	sink   ResultSink
	logger *slog.Logger
}

// New creates an empty queue for the given run.
func New(runID string, opts Options, st store.Store, sink ResultSink, logger *slog.Logger) *Queue {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Queue{
		runID:  runID,
		byID:   make(map[string]*model.Batch),
		agents: make(map[string]*model.Agent),
		opts:   opts,
		store:  st,
		sink:   sink,
		logger: logger,
	}
}

// Load installs the partitioner's batch sequence and persists it. Called once
// per run before any lease is issued.
func (q *Queue) Load(ctx context.Context, batches []*model.Batch) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, b := range batches {
		q.batches = append(q.batches, b)
		q.byID[b.ID] = b
		if q.store != nil {
			if err := q.store.CreateBatch(ctx, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lease atomically claims the next pending batch in sequence order for the
// agent. The returned batch is a copy; the queue retains ownership of the
// canonical record. Leasing also registers the agent and counts as a
// heartbeat.
func (q *Queue) Lease(ctx context.Context, agentID string) (*model.Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	if a, ok := q.agents[agentID]; ok && a.Status == model.AgentDead {
		return nil, ErrAgentDead
	}
	q.touchAgent(ctx, agentID, now)

	if q.aborted || q.allTerminalLocked() {
		return nil, ErrDrained
	}

	for _, b := range q.batches {
		if b.State != model.BatchPending {
			continue
		}
		expires := now.Add(q.opts.LeaseTTL)
		b.State = model.BatchLeased
		b.LeaseOwner = agentID
		b.LeaseExpiresAt = &expires
		b.AttemptCount++
		q.persistBatch(ctx, b)
		leasesTotal.Inc()

		leased := *b
		leased.TestIDs = append([]string(nil), b.TestIDs...)
		return &leased, nil
	}

	return nil, ErrNoWork
}

// Ack completes a leased batch and forwards its results to the aggregator.
// Only the current lease owner may ack; anything else is a stale ack from a
// straggler whose lease already expired, rejected but not fatal.
//
// Results are delivered to the sink under the queue lock: a batch must never
// be observable as completed while its results are still undelivered, or a
// concurrent completion check would tally them as missing.
func (q *Queue) Ack(ctx context.Context, batchID, agentID string, results []model.RunResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	b, ok := q.byID[batchID]
	if !ok {
		return ErrUnknownBatch
	}
	if b.State != model.BatchLeased || b.LeaseOwner != agentID {
		acksTotal.WithLabelValues("stale").Inc()
		return ErrStaleAck
	}

	now := time.Now().UTC()
	for _, r := range results {
		r.AgentID = agentID
		r.RecordedAt = now
		if q.sink != nil {
			q.sink.Record(r)
		}
		if q.store != nil {
			if err := q.store.InsertResult(ctx, q.runID, r); err != nil {
				q.logger.Warn("persist result", "test_id", r.TestID, "error", err)
			}
		}
	}

	b.State = model.BatchCompleted
	b.LeaseExpiresAt = nil
	q.persistBatch(ctx, b)
	acksTotal.WithLabelValues("ok").Inc()
	return nil
}

// Requeue returns an expired lease to the pending pool, or retires the batch
// permanently once its attempts are exhausted. A batch that is no longer
// leased is left alone, so racing sweeps cannot requeue twice.
func (q *Queue) Requeue(ctx context.Context, batchID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requeueLocked(ctx, batchID)
}

func (q *Queue) requeueLocked(ctx context.Context, batchID string) error {
	b, ok := q.byID[batchID]
	if !ok {
		return ErrUnknownBatch
	}
	if b.State != model.BatchLeased {
		return nil
	}

	if b.AttemptCount >= q.opts.MaxAttempts {
		b.State = model.BatchFailed
		b.LeaseOwner = ""
		b.LeaseExpiresAt = nil
		q.persistBatch(ctx, b)
		requeuesTotal.WithLabelValues("permanently_failed").Inc()
		q.logger.Error("batch permanently failed",
			"batch_id", b.ID, "attempts", b.AttemptCount)
		return nil
	}

	b.State = model.BatchPending
	b.LeaseOwner = ""
	b.LeaseExpiresAt = nil
	q.persistBatch(ctx, b)
	requeuesTotal.WithLabelValues("pending").Inc()
	return nil
}

// ExtendLease renews the lease expiry for a long-running batch. Only the
// current owner may extend.
func (q *Queue) ExtendLease(ctx context.Context, batchID, agentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	b, ok := q.byID[batchID]
	if !ok {
		return ErrUnknownBatch
	}
	if b.State != model.BatchLeased || b.LeaseOwner != agentID {
		return ErrStaleAck
	}

	expires := time.Now().UTC().Add(q.opts.LeaseTTL)
	b.LeaseExpiresAt = &expires
	q.persistBatch(ctx, b)
	return nil
}

// Heartbeat refreshes an agent's liveness. Dead agents stay dead.
func (q *Queue) Heartbeat(ctx context.Context, agentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if a, ok := q.agents[agentID]; ok && a.Status == model.AgentDead {
		return ErrAgentDead
	}
	q.touchAgent(ctx, agentID, time.Now().UTC())
	return nil
}

// ExpireLeases requeues every leased batch whose lease expired before now.
// Each expiry triggers exactly one requeue: the transition back to pending
// removes the batch from subsequent sweeps. Returns the number requeued.
func (q *Queue) ExpireLeases(ctx context.Context, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, b := range q.batches {
		if b.State != model.BatchLeased || b.LeaseExpiresAt == nil {
			continue
		}
		if b.LeaseExpiresAt.After(now) {
			continue
		}
		q.logger.Warn("lease expired",
			"batch_id", b.ID, "owner", b.LeaseOwner, "attempt", b.AttemptCount)
		expiredLeasesTotal.Inc()
		if err := q.requeueLocked(ctx, b.ID); err != nil {
			q.logger.Error("requeue expired lease", "batch_id", b.ID, "error", err)
			continue
		}
		n++
	}
	return n
}

// SweepAgents marks agents silent past the heartbeat timeout as dead and
// returns their ids. Their in-flight leases are reclaimed separately through
// lease expiry, never through agent death directly.
func (q *Queue) SweepAgents(ctx context.Context, now time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var dead []string
	for _, a := range q.agents {
		if a.Status != model.AgentActive {
			continue
		}
		if now.Sub(a.LastHeartbeatAt) <= q.opts.HeartbeatTimeout {
			continue
		}
		a.Status = model.AgentDead
		dead = append(dead, a.ID)
		q.persistAgent(ctx, a)
		q.logger.Warn("agent heartbeat timeout", "agent_id", a.ID)
	}
	return dead
}

// Abort stops all future lease issuance. In-flight leases finish or expire
// normally; requeued batches are simply never leased again.
func (q *Queue) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.aborted = true
}

// Aborted reports whether lease issuance has stopped.
func (q *Queue) Aborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

// Complete reports whether the run has quiesced: no leased batches, and no
// pending batch that could still be leased.
func (q *Queue) Complete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, b := range q.batches {
		switch b.State {
		case model.BatchLeased:
			return false
		case model.BatchPending:
			if !q.aborted {
				return false
			}
		}
	}
	return true
}

// Counts returns the number of batches per state.
func (q *Queue) Counts() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[string]int)
	for _, b := range q.batches {
		counts[b.State]++
	}
	return counts
}

// Snapshot returns copies of all batches in sequence order.
func (q *Queue) Snapshot() []*model.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*model.Batch, len(q.batches))
	for i, b := range q.batches {
		c := *b
		c.TestIDs = append([]string(nil), b.TestIDs...)
		out[i] = &c
	}
	return out
}

func (q *Queue) allTerminalLocked() bool {
	for _, b := range q.batches {
		if !model.Terminal(b.State) {
			return false
		}
	}
	return true
}

func (q *Queue) touchAgent(ctx context.Context, agentID string, now time.Time) {
	a, ok := q.agents[agentID]
	if !ok {
		a = &model.Agent{
			ID:           agentID,
			RunID:        q.runID,
			Status:       model.AgentActive,
			RegisteredAt: now,
		}
		q.agents[agentID] = a
		q.logger.Info("agent registered", "agent_id", agentID)
	}
	a.LastHeartbeatAt = now
	q.persistAgent(ctx, a)
}

// Store failures on write-through are logged, not surfaced: the in-memory
// state remains correct and the run can finish without the durable record.
func (q *Queue) persistBatch(ctx context.Context, b *model.Batch) {
	if q.store == nil {
		return
	}
	if err := q.store.UpdateBatch(ctx, b); err != nil {
		q.logger.Warn("persist batch", "batch_id", b.ID, "error", err)
	}
}

func (q *Queue) persistAgent(ctx context.Context, a *model.Agent) {
	if q.store == nil {
		return
	}
	if err := q.store.UpsertAgent(ctx, a); err != nil {
		q.logger.Warn("persist agent", "agent_id", a.ID, "error", err)
	}
}

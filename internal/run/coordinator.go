// Package run orchestrates one pipeline invocation: it pulls the test list
// from the selector, partitions it, owns the work queue, watches for failures
// and renders the final verdict.
package run

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/splay/internal/model"
	"github.com/seantiz/splay/internal/partition"
	"github.com/seantiz/splay/internal/queue"
	"github.com/seantiz/splay/internal/selector"
	"github.com/seantiz/splay/internal/store"
)

// Config tunes coordinator behavior for a run.
type Config struct {
	Agents           int
	ChunkFactor      int
	LeaseTTL         time.Duration
	MaxAttempts      int
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	Budget           time.Duration
}

// Coordinator starts runs. One coordinator can own many sequential or
// concurrent runs; every run gets a fresh queue and aggregator, so leases and
// results never leak between pipeline invocations.
type Coordinator struct {
	selector selector.Selector
	store    store.Store
	logger   *slog.Logger
	cfg      Config
}

// NewCoordinator creates a coordinator using the given selector and store.
func NewCoordinator(sel selector.Selector, st store.Store, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.Agents < 1 {
		cfg.Agents = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 90 * time.Second
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 30 * time.Minute
	}
	return &Coordinator{
		selector: sel,
		store:    st,
		logger:   logger,
		cfg:      cfg,
	}
}

// StartRun obtains the test list for the changed files, partitions it into
// the batch sequence, loads the queue and starts monitoring. The selector is
// the single source of truth: if it fails or returns malformed data the run
// aborts here, before any batch is leased.
func (c *Coordinator) StartRun(ctx context.Context, changedFiles []string) (*Run, error) {
	tests, err := c.selector.Select(ctx, changedFiles)
	if err != nil {
		c.logger.Error("selector failed, aborting run", "error", err)
		return nil, err
	}

	runID := model.NewID()
	logger := c.logger.With("run_id", runID)
	agg := NewAggregator(tests)

	q := queue.New(runID, queue.Options{
		LeaseTTL:         c.cfg.LeaseTTL,
		MaxAttempts:      c.cfg.MaxAttempts,
		HeartbeatTimeout: c.cfg.HeartbeatTimeout,
	}, c.store, agg, logger)

	rec := &model.Run{
		ID:         runID,
		TotalTests: len(tests),
		Verdict:    model.VerdictPending,
		BudgetMS:   c.cfg.Budget.Milliseconds(),
		StartedAt:  time.Now().UTC(),
	}
	if c.store != nil {
		if err := c.store.CreateRun(ctx, rec); err != nil {
			return nil, err
		}
	}

	batches := partition.New(c.cfg.Agents, c.cfg.ChunkFactor).Partition(runID, tests)
	if err := q.Load(ctx, batches); err != nil {
		return nil, err
	}

	logger.Info("run started",
		"tests", len(tests),
		"batches", len(batches),
		"agents", c.cfg.Agents,
		"budget", c.cfg.Budget.String(),
	)

	catalog := make(map[string]model.TestCase, len(tests))
	for _, tc := range tests {
		catalog[tc.ID] = tc
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	r := &Run{
		ID:        runID,
		Queue:     q,
		agg:       agg,
		catalog:   catalog,
		total:     len(tests),
		budget:    c.cfg.Budget,
		startedAt: rec.StartedAt,
		store:     c.store,
		logger:    logger,
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	go r.monitor(monitorCtx, c.cfg.SweepInterval)

	return r, nil
}

// Run is the live state of one pipeline invocation.
type Run struct {
	ID    string
	Queue *queue.Queue

	agg       *Aggregator
	catalog   map[string]model.TestCase
	total     int
	budget    time.Duration
	startedAt time.Time
	store     store.Store
	logger    *slog.Logger

	done     chan struct{}
	doneOnce sync.Once
	cancel   context.CancelFunc

	mu       sync.Mutex
	finished time.Time
}

// ResolveTests maps batch test ids back to their full test cases so agents
// receive file paths and estimates with each lease.
func (r *Run) ResolveTests(ids []string) []model.TestCase {
	tests := make([]model.TestCase, 0, len(ids))
	for _, id := range ids {
		if tc, ok := r.catalog[id]; ok {
			tests = append(tests, tc)
		}
	}
	return tests
}

// Done is closed when the run has quiesced: every batch terminal, or aborted
// with no leases outstanding.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Abort cooperatively stops the run: no new leases are issued, in-flight
// batches finish or expire normally.
func (r *Run) Abort() {
	r.Queue.Abort()
}

// Complete reports whether the run has quiesced.
func (r *Run) Complete() bool {
	return r.Queue.Complete()
}

// Await blocks until the run completes, the budget deadline passes, or ctx is
// cancelled, whichever comes first, and returns the report as of that moment.
// On budget expiry the run is aborted; the monitor keeps draining in-flight
// leases in the background.
func (r *Run) Await(ctx context.Context) *Report {
	deadline := time.NewTimer(time.Until(r.startedAt.Add(r.budget)))
	defer deadline.Stop()

	select {
	case <-r.done:
	case <-deadline.C:
		r.logger.Warn("budget elapsed, aborting run", "budget", r.budget.String())
		r.Abort()
	case <-ctx.Done():
		r.Abort()
	}
	return r.Report()
}

// Report computes the verdict from the current aggregator and queue state.
func (r *Run) Report() *Report {
	passed, failed, errored, missing := r.agg.Tally()
	counts := r.Queue.Counts()
	elapsed := r.elapsed()

	rep := &Report{
		RunID:         r.ID,
		TotalTests:    r.total,
		Passed:        passed,
		Failed:        failed,
		Errored:       errored,
		Missing:       missing,
		FailedBatches: counts[model.BatchFailed],
		Elapsed:       elapsed,
		Budget:        r.budget,
	}
	rep.TestFailures = failed > 0 || errored > 0
	rep.BudgetExceeded = elapsed > r.budget
	rep.Incomplete = rep.FailedBatches > 0 || missing > 0
	return rep
}

// finish records the final verdict and releases waiters.
func (r *Run) finish(ctx context.Context) {
	r.doneOnce.Do(func() {
		now := time.Now().UTC()
		r.mu.Lock()
		r.finished = now
		r.mu.Unlock()

		rep := r.Report()
		if r.store != nil {
			rec := &model.Run{
				ID:         r.ID,
				TotalTests: r.total,
				Verdict:    rep.Verdict(),
				FinishedAt: &now,
			}
			if err := r.store.UpdateRun(ctx, rec); err != nil {
				r.logger.Warn("persist run verdict", "error", err)
			}
		}

		r.logger.Info("run finished",
			"verdict", rep.Verdict(),
			"passed", rep.Passed,
			"failed", rep.Failed,
			"errored", rep.Errored,
			"missing", rep.Missing,
			"elapsed_ms", rep.Elapsed.Milliseconds(),
		)
		r.cancel()
		close(r.done)
	})
}

func (r *Run) elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finished.IsZero() {
		return r.finished.Sub(r.startedAt)
	}
	return time.Since(r.startedAt)
}

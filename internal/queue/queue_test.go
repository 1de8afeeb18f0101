package queue_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/splay/internal/model"
	"github.com/seantiz/splay/internal/queue"
	"github.com/seantiz/splay/internal/store"
)

type captureSink struct {
	mu      sync.Mutex
	results []model.RunResult
}

func (c *captureSink) Record(r model.RunResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *captureSink) all() []model.RunResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.RunResult(nil), c.results...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func makeBatches(n int) []*model.Batch {
	batches := make([]*model.Batch, n)
	for i := range batches {
		batches[i] = &model.Batch{
			ID:        fmt.Sprintf("b%03d", i),
			RunID:     "run1",
			Seq:       i,
			TestIDs:   []string{fmt.Sprintf("t%03d", i)},
			State:     model.BatchPending,
			CreatedAt: time.Now().UTC(),
		}
	}
	return batches
}

func newTestQueue(t *testing.T, opts queue.Options, sink queue.ResultSink, n int) *queue.Queue {
	t.Helper()
	if opts.LeaseTTL == 0 {
		opts.LeaseTTL = time.Minute
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.HeartbeatTimeout == 0 {
		opts.HeartbeatTimeout = time.Minute
	}
	q := queue.New("run1", opts, nil, sink, testLogger())
	if err := q.Load(context.Background(), makeBatches(n)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return q
}

func TestLeaseSequenceOrder(t *testing.T) {
	q := newTestQueue(t, queue.Options{}, nil, 3)
	ctx := context.Background()

	for want := 0; want < 3; want++ {
		b, err := q.Lease(ctx, "a1")
		if err != nil {
			t.Fatalf("Lease: %v", err)
		}
		if b.Seq != want {
			t.Errorf("lease %d returned seq %d", want, b.Seq)
		}
		if b.State != model.BatchLeased || b.LeaseOwner != "a1" {
			t.Errorf("unexpected lease fields: %+v", b)
		}
		if b.AttemptCount != 1 {
			t.Errorf("attempt count = %d, want 1", b.AttemptCount)
		}
		if b.LeaseExpiresAt == nil {
			t.Error("lease expiry not set")
		}
	}

	if _, err := q.Lease(ctx, "a1"); !errors.Is(err, queue.ErrNoWork) {
		t.Fatalf("err = %v, want ErrNoWork while batches in flight", err)
	}
}

func TestLeaseDrainedAfterAllTerminal(t *testing.T) {
	q := newTestQueue(t, queue.Options{}, nil, 1)
	ctx := context.Background()

	b, err := q.Lease(ctx, "a1")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if err := q.Ack(ctx, b.ID, "a1", nil); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	if _, err := q.Lease(ctx, "a1"); !errors.Is(err, queue.ErrDrained) {
		t.Fatalf("err = %v, want ErrDrained", err)
	}
	if !q.Complete() {
		t.Error("queue should be complete")
	}
}

func TestConcurrentLeaseMutualExclusion(t *testing.T) {
	const batches = 50
	const agents = 8
	q := newTestQueue(t, queue.Options{}, nil, batches)
	ctx := context.Background()

	var mu sync.Mutex
	owners := make(map[string][]string)

	var wg sync.WaitGroup
	for i := 0; i < agents; i++ {
		agentID := fmt.Sprintf("agent-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				b, err := q.Lease(ctx, agentID)
				if errors.Is(err, queue.ErrNoWork) || errors.Is(err, queue.ErrDrained) {
					return
				}
				if err != nil {
					t.Errorf("Lease: %v", err)
					return
				}
				mu.Lock()
				owners[b.ID] = append(owners[b.ID], agentID)
				mu.Unlock()
				if err := q.Ack(ctx, b.ID, agentID, nil); err != nil {
					t.Errorf("Ack: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if len(owners) != batches {
		t.Fatalf("leased %d distinct batches, want %d", len(owners), batches)
	}
	for id, got := range owners {
		if len(got) != 1 {
			t.Errorf("batch %s leased %d times: %v", id, len(got), got)
		}
	}
}

func TestAckStaleAfterReassignment(t *testing.T) {
	q := newTestQueue(t, queue.Options{LeaseTTL: time.Millisecond}, nil, 1)
	ctx := context.Background()

	b, err := q.Lease(ctx, "a1")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}

	// Lease expires; the reaper hands the batch to another agent.
	if n := q.ExpireLeases(ctx, time.Now().UTC().Add(time.Second)); n != 1 {
		t.Fatalf("ExpireLeases = %d, want 1", n)
	}
	b2, err := q.Lease(ctx, "a2")
	if err != nil {
		t.Fatalf("re-lease: %v", err)
	}
	if b2.AttemptCount != 2 {
		t.Errorf("attempt count after requeue = %d, want 2", b2.AttemptCount)
	}

	// Straggler ack from the original owner is rejected and ignored.
	if err := q.Ack(ctx, b.ID, "a1", nil); !errors.Is(err, queue.ErrStaleAck) {
		t.Fatalf("stale ack err = %v, want ErrStaleAck", err)
	}

	// The live owner's ack still lands.
	if err := q.Ack(ctx, b2.ID, "a2", nil); err != nil {
		t.Fatalf("Ack by current owner: %v", err)
	}
}

func TestAckUnknownBatch(t *testing.T) {
	q := newTestQueue(t, queue.Options{}, nil, 1)
	if err := q.Ack(context.Background(), "nope", "a1", nil); !errors.Is(err, queue.ErrUnknownBatch) {
		t.Fatalf("err = %v, want ErrUnknownBatch", err)
	}
}

func TestAckForwardsResultsToSink(t *testing.T) {
	sink := &captureSink{}
	q := newTestQueue(t, queue.Options{}, sink, 1)
	ctx := context.Background()

	b, err := q.Lease(ctx, "a1")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	results := []model.RunResult{
		{TestID: "t000", Status: model.ResultPass, DurationMS: 120},
	}
	if err := q.Ack(ctx, b.ID, "a1", results); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("sink received %d results, want 1", len(got))
	}
	if got[0].AgentID != "a1" {
		t.Errorf("agent id = %q, want a1", got[0].AgentID)
	}
	if got[0].RecordedAt.IsZero() {
		t.Error("recorded_at not set")
	}
}

func TestExpireLeasesExactlyOncePerExpiry(t *testing.T) {
	q := newTestQueue(t, queue.Options{LeaseTTL: time.Millisecond}, nil, 1)
	ctx := context.Background()

	if _, err := q.Lease(ctx, "a1"); err != nil {
		t.Fatalf("Lease: %v", err)
	}

	future := time.Now().UTC().Add(time.Second)
	if n := q.ExpireLeases(ctx, future); n != 1 {
		t.Fatalf("first sweep requeued %d, want 1", n)
	}
	// Sweeping again on the next ticks must be a no-op.
	for i := 0; i < 3; i++ {
		if n := q.ExpireLeases(ctx, future); n != 0 {
			t.Fatalf("repeat sweep requeued %d, want 0", n)
		}
	}

	counts := q.Counts()
	if counts[model.BatchPending] != 1 {
		t.Errorf("counts = %v, want one pending batch", counts)
	}
}

func TestRequeueExhaustionPermanentlyFails(t *testing.T) {
	q := newTestQueue(t, queue.Options{LeaseTTL: time.Millisecond, MaxAttempts: 3}, nil, 1)
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	for attempt := 1; attempt <= 3; attempt++ {
		b, err := q.Lease(ctx, "crashy")
		if err != nil {
			t.Fatalf("Lease attempt %d: %v", attempt, err)
		}
		if b.AttemptCount != attempt {
			t.Errorf("attempt count = %d, want %d", b.AttemptCount, attempt)
		}
		q.ExpireLeases(ctx, future)
	}

	counts := q.Counts()
	if counts[model.BatchFailed] != 1 {
		t.Fatalf("counts = %v, want one permanently failed batch", counts)
	}

	// Terminal: never leased again, queue reports drained and complete.
	if _, err := q.Lease(ctx, "crashy"); !errors.Is(err, queue.ErrDrained) {
		t.Fatalf("err = %v, want ErrDrained", err)
	}
	if !q.Complete() {
		t.Error("queue with only terminal batches should be complete")
	}
}

func TestRequeueNonLeasedIsNoOp(t *testing.T) {
	q := newTestQueue(t, queue.Options{}, nil, 1)
	ctx := context.Background()

	if err := q.Requeue(ctx, "b000"); err != nil {
		t.Fatalf("Requeue pending batch: %v", err)
	}
	counts := q.Counts()
	if counts[model.BatchPending] != 1 {
		t.Errorf("counts = %v, want batch untouched", counts)
	}
}

func TestExtendLease(t *testing.T) {
	q := newTestQueue(t, queue.Options{LeaseTTL: time.Minute}, nil, 1)
	ctx := context.Background()

	b, err := q.Lease(ctx, "a1")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	before := *b.LeaseExpiresAt

	time.Sleep(5 * time.Millisecond)
	if err := q.ExtendLease(ctx, b.ID, "a1"); err != nil {
		t.Fatalf("ExtendLease: %v", err)
	}

	snap := q.Snapshot()
	if !snap[0].LeaseExpiresAt.After(before) {
		t.Error("lease expiry was not extended")
	}

	if err := q.ExtendLease(ctx, b.ID, "intruder"); !errors.Is(err, queue.ErrStaleAck) {
		t.Fatalf("non-owner extension err = %v, want ErrStaleAck", err)
	}
}

func TestAbortStopsLeasing(t *testing.T) {
	q := newTestQueue(t, queue.Options{}, nil, 3)
	ctx := context.Background()

	b, err := q.Lease(ctx, "a1")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}

	q.Abort()

	if _, err := q.Lease(ctx, "a2"); !errors.Is(err, queue.ErrDrained) {
		t.Fatalf("post-abort lease err = %v, want ErrDrained", err)
	}

	// In-flight batch may still ack normally.
	if err := q.Ack(ctx, b.ID, "a1", nil); err != nil {
		t.Fatalf("Ack after abort: %v", err)
	}

	// Pending batches never lease again, so the run is quiesced.
	if !q.Complete() {
		t.Error("aborted queue with no leased batches should be complete")
	}
}

func TestDeadAgentRefusedWork(t *testing.T) {
	q := newTestQueue(t, queue.Options{HeartbeatTimeout: time.Millisecond}, nil, 2)
	ctx := context.Background()

	if err := q.Heartbeat(ctx, "a1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	dead := q.SweepAgents(ctx, time.Now().UTC().Add(time.Second))
	if len(dead) != 1 || dead[0] != "a1" {
		t.Fatalf("SweepAgents = %v, want [a1]", dead)
	}

	if _, err := q.Lease(ctx, "a1"); !errors.Is(err, queue.ErrAgentDead) {
		t.Fatalf("dead agent lease err = %v, want ErrAgentDead", err)
	}
	if err := q.Heartbeat(ctx, "a1"); !errors.Is(err, queue.ErrAgentDead) {
		t.Fatalf("dead agent heartbeat err = %v, want ErrAgentDead", err)
	}

	// Other agents are unaffected.
	if _, err := q.Lease(ctx, "a2"); err != nil {
		t.Fatalf("live agent lease: %v", err)
	}
}

func TestWriteThroughPersistsState(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	opts := queue.Options{LeaseTTL: time.Minute, MaxAttempts: 3, HeartbeatTimeout: time.Minute}
	q := queue.New("run1", opts, st, nil, testLogger())
	ctx := context.Background()

	if err := q.Load(ctx, makeBatches(2)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	b, err := q.Lease(ctx, "a1")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if err := q.Ack(ctx, b.ID, "a1", []model.RunResult{
		{TestID: "t000", Status: model.ResultPass, DurationMS: 50},
	}); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	batches, err := st.ListBatches(ctx, "run1")
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if batches[0].State != model.BatchCompleted {
		t.Errorf("persisted state = %q, want completed", batches[0].State)
	}
	if batches[1].State != model.BatchPending {
		t.Errorf("persisted state = %q, want pending", batches[1].State)
	}

	results, err := st.ListResults(ctx, "run1")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 1 || results[0].TestID != "t000" {
		t.Errorf("persisted results = %+v", results)
	}

	agents, err := st.ListAgents(ctx, "run1")
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "a1" {
		t.Errorf("persisted agents = %+v", agents)
	}
}

// blockingSink stalls result delivery until released, modeling a slow
// aggregator on the receiving side of an ack.
type blockingSink struct {
	captureSink
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSink) Record(r model.RunResult) {
	b.entered <- struct{}{}
	<-b.release
	b.captureSink.Record(r)
}

func TestCompletionWaitsForResultDelivery(t *testing.T) {
	sink := &blockingSink{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	q := newTestQueue(t, queue.Options{}, sink, 1)
	ctx := context.Background()

	b, err := q.Lease(ctx, "a1")
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}

	ackDone := make(chan error, 1)
	go func() {
		ackDone <- q.Ack(ctx, b.ID, "a1", []model.RunResult{
			{TestID: "t000", Status: model.ResultPass},
		})
	}()
	<-sink.entered

	// Delivery is in flight: a completion check must not see the batch as
	// terminal while its results are still unrecorded.
	completeCh := make(chan bool, 1)
	go func() { completeCh <- q.Complete() }()

	select {
	case done := <-completeCh:
		t.Fatalf("Complete() = %v with %d results recorded", done, len(sink.all()))
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	if err := <-ackDone; err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if !<-completeCh {
		t.Fatal("Complete() = false after the ack finished")
	}
	if got := len(sink.all()); got != 1 {
		t.Fatalf("recorded %d results, want 1", got)
	}
}

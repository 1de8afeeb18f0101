package store

import (
	"context"
	"errors"

	"github.com/seantiz/splay/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStats holds aggregate statistics for one run.
type RunStats struct {
	TotalBatches    int            `json:"total_batches"`
	BatchesByState  map[string]int `json:"batches_by_state"`
	TotalResults    int            `json:"total_results"`
	ResultsByStatus map[string]int `json:"results_by_status"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
}

// Store defines persistence for runs, batches, results and agents. The work
// queue is authoritative in memory and writes through; the store is the
// durable record for status APIs and post-run inspection.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	UpdateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)

	CreateBatch(ctx context.Context, b *model.Batch) error
	UpdateBatch(ctx context.Context, b *model.Batch) error
	ListBatches(ctx context.Context, runID string) ([]*model.Batch, error)

	InsertResult(ctx context.Context, runID string, res model.RunResult) error
	ListResults(ctx context.Context, runID string) ([]model.RunResult, error)

	UpsertAgent(ctx context.Context, a *model.Agent) error
	ListAgents(ctx context.Context, runID string) ([]*model.Agent, error)

	RunStats(ctx context.Context, runID string) (*RunStats, error)

	Close() error
}

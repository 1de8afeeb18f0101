package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/seantiz/splay/internal/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    total_tests INTEGER NOT NULL,
    verdict     TEXT NOT NULL,
    budget_ms   INTEGER NOT NULL,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME
);
CREATE TABLE IF NOT EXISTS batches (
    id               TEXT PRIMARY KEY,
    run_id           TEXT NOT NULL,
    seq              INTEGER NOT NULL,
    test_ids         TEXT NOT NULL,
    estimated_ms     INTEGER NOT NULL,
    state            TEXT NOT NULL,
    lease_owner      TEXT,
    lease_expires_at DATETIME,
    attempt_count    INTEGER NOT NULL,
    created_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batches_run ON batches(run_id, seq);
CREATE TABLE IF NOT EXISTS results (
    run_id      TEXT NOT NULL,
    test_id     TEXT NOT NULL,
    agent_id    TEXT NOT NULL,
    status      TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    recorded_at DATETIME NOT NULL,
    PRIMARY KEY (run_id, test_id)
);
CREATE TABLE IF NOT EXISTS agents (
    id                TEXT NOT NULL,
    run_id            TEXT NOT NULL,
    status            TEXT NOT NULL,
    last_heartbeat_at DATETIME NOT NULL,
    registered_at     DATETIME NOT NULL,
    PRIMARY KEY (run_id, id)
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and creates the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, total_tests, verdict, budget_ms, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.TotalTests, r.Verdict, r.BudgetMS, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun updates verdict and finish time for a run.
func (s *SQLiteStore) UpdateRun(ctx context.Context, r *model.Run) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET total_tests = ?, verdict = ?, finished_at = ? WHERE id = ?`,
		r.TotalTests, r.Verdict, r.FinishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return checkAffected(res)
}

// GetRun retrieves a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r := &model.Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, total_tests, verdict, budget_ms, started_at, finished_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.TotalTests, &r.Verdict, &r.BudgetMS, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// CreateBatch inserts a new batch record.
func (s *SQLiteStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	ids, err := json.Marshal(b.TestIDs)
	if err != nil {
		return fmt.Errorf("encode test ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (
			id, run_id, seq, test_ids, estimated_ms, state,
			lease_owner, lease_expires_at, attempt_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.RunID, b.Seq, string(ids), b.EstimatedDurationMS, b.State,
		nullable(b.LeaseOwner), b.LeaseExpiresAt, b.AttemptCount, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// UpdateBatch persists the mutable lease fields of a batch.
func (s *SQLiteStore) UpdateBatch(ctx context.Context, b *model.Batch) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET state = ?, lease_owner = ?, lease_expires_at = ?, attempt_count = ?
		 WHERE id = ?`,
		b.State, nullable(b.LeaseOwner), b.LeaseExpiresAt, b.AttemptCount, b.ID,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return checkAffected(res)
}

// ListBatches returns all batches for a run in sequence order.
func (s *SQLiteStore) ListBatches(ctx context.Context, runID string) ([]*model.Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, seq, test_ids, estimated_ms, state,
			lease_owner, lease_expires_at, attempt_count, created_at
		 FROM batches WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*model.Batch
	for rows.Next() {
		b := &model.Batch{}
		var ids string
		var owner sql.NullString
		if err := rows.Scan(
			&b.ID, &b.RunID, &b.Seq, &ids, &b.EstimatedDurationMS, &b.State,
			&owner, &b.LeaseExpiresAt, &b.AttemptCount, &b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &b.TestIDs); err != nil {
			return nil, fmt.Errorf("decode test ids: %w", err)
		}
		b.LeaseOwner = owner.String
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// InsertResult records a per-test result. The (run_id, test_id) primary key
// makes duplicate inserts fail, which preserves first-write-wins dedup at the
// storage layer; callers treat conflict as a no-op.
func (s *SQLiteStore) InsertResult(ctx context.Context, runID string, res model.RunResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO results (run_id, test_id, agent_id, status, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, res.TestID, res.AgentID, res.Status, res.DurationMS, res.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListResults returns all recorded results for a run.
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]model.RunResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT test_id, agent_id, status, duration_ms, recorded_at
		 FROM results WHERE run_id = ? ORDER BY recorded_at`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []model.RunResult
	for rows.Next() {
		var r model.RunResult
		if err := rows.Scan(&r.TestID, &r.AgentID, &r.Status, &r.DurationMS, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// UpsertAgent inserts or refreshes an agent record.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, a *model.Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, run_id, status, last_heartbeat_at, registered_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, id) DO UPDATE SET status = excluded.status,
			last_heartbeat_at = excluded.last_heartbeat_at`,
		a.ID, a.RunID, a.Status, a.LastHeartbeatAt, a.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// ListAgents returns all agents seen during a run.
func (s *SQLiteStore) ListAgents(ctx context.Context, runID string) ([]*model.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, status, last_heartbeat_at, registered_at
		 FROM agents WHERE run_id = ? ORDER BY registered_at`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		a := &model.Agent{}
		if err := rows.Scan(&a.ID, &a.RunID, &a.Status, &a.LastHeartbeatAt, &a.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

// RunStats computes aggregate batch and result statistics for a run.
func (s *SQLiteStore) RunStats(ctx context.Context, runID string) (*RunStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &RunStats{
		BatchesByState:  make(map[string]int),
		ResultsByStatus: make(map[string]int),
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM batches WHERE run_id = ? GROUP BY state", runID)
	if err != nil {
		return nil, fmt.Errorf("count batches: %w", err)
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan batch count: %w", err)
		}
		stats.BatchesByState[state] = n
		stats.TotalBatches += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate batch counts: %w", err)
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM results WHERE run_id = ? GROUP BY status", runID)
	if err != nil {
		return nil, fmt.Errorf("count results: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan result count: %w", err)
		}
		stats.ResultsByStatus[status] = n
		stats.TotalResults += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate result counts: %w", err)
	}
	rows.Close()

	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(AVG(duration_ms), 0) FROM results WHERE run_id = ?", runID,
	).Scan(&stats.AvgDurationMS)
	if err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}

	return stats, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// nullable maps an empty string to NULL so cleared lease owners round-trip.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

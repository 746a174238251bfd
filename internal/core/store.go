package core

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/kubeprovision/internal/fleet"
)

// Store is the SQLite-backed run journal. Every fan-out operation is stored
// as one run with one row per node.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// Run is one journaled fan-out operation.
type Run struct {
	ID        int64
	Operation string
	StartedAt time.Time
	Duration  time.Duration
	Nodes     int
	Failed    int
	Results   []NodeRun
}

// NodeRun is one node's outcome within a Run. Error is empty on success.
type NodeRun struct {
	NodeID   string
	Role     string
	Address  string
	Error    string
	Duration time.Duration
}

func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// Ping checks that the journal database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// RecordReport journals a fleet report for an operation started at started.
func (s *Store) RecordReport(ctx context.Context, rep fleet.Report, started time.Time) (int64, error) {
	run := Run{
		Operation: rep.Operation,
		StartedAt: started,
		Duration:  time.Since(started),
		Nodes:     len(rep.Results),
		Failed:    rep.Failed(),
	}
	for _, r := range rep.Results {
		nr := NodeRun{
			NodeID:   r.Node.ID.String(),
			Role:     r.Role.String(),
			Duration: r.Duration,
		}
		if r.Node.HasPublicAddress() {
			nr.Address = r.Node.PublicAddress.String()
		}
		if r.Err != nil {
			nr.Error = r.Err.Error()
		}
		run.Results = append(run.Results, nr)
	}
	return s.RecordRun(ctx, run)
}

// RecordRun inserts run and its node rows in one transaction and returns the
// new run id.
func (s *Store) RecordRun(ctx context.Context, run Run) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (operation, started_at, duration_ms, nodes, failed) VALUES (?, ?, ?, ?, ?)`,
		run.Operation, run.StartedAt.UnixMilli(), run.Duration.Milliseconds(), run.Nodes, run.Failed)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for i, nr := range run.Results {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO node_results (run_id, seq, node_id, role, address, error, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, i, nr.NodeID, nr.Role, nr.Address, nr.Error, nr.Duration.Milliseconds()); err != nil {
			return 0, fmt.Errorf("insert node result: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// RecentRuns returns up to limit runs, newest first, with their node rows.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation, started_at, duration_ms, nodes, failed FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	var runs []Run
	for rows.Next() {
		var r Run
		var started, dur int64
		if err := rows.Scan(&r.ID, &r.Operation, &started, &dur, &r.Nodes, &r.Failed); err != nil {
			rows.Close()
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		r.Duration = time.Duration(dur) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if runs[i].Results, err = s.nodeRuns(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) nodeRuns(ctx context.Context, runID int64) ([]NodeRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, role, address, error, duration_ms FROM node_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query node results: %w", err)
	}
	defer rows.Close()
	var out []NodeRun
	for rows.Next() {
		var nr NodeRun
		var dur int64
		if err := rows.Scan(&nr.NodeID, &nr.Role, &nr.Address, &nr.Error, &dur); err != nil {
			return nil, err
		}
		nr.Duration = time.Duration(dur) * time.Millisecond
		out = append(out, nr)
	}
	return out, rows.Err()
}

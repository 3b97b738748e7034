package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/nvandessel/pathsim/internal/generator"
	"github.com/nvandessel/pathsim/internal/simulation"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// timeFormat is fixed width so timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Seed       uint64     `json:"seed"`
	Orders     int        `json:"orders"`
	Failed     int        `json:"failed"`
	Relays     int        `json:"relays"`
	Delivered  int        `json:"delivered"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// OrderRecord is one row of the orders table.
type OrderRecord struct {
	Index   int    `json:"index"`
	Line    int    `json:"line"`
	Quota   int    `json:"quota"`
	State   string `json:"state"`
	Created int    `json:"created"`
	Batches int    `json:"batches"`
	Drawn   int    `json:"drawn"`
	Error   string `json:"error,omitempty"`
}

// CircuitRecord is one row of the circuits table. Hops are fingerprints.
type CircuitRecord struct {
	Order  int    `json:"order"`
	Batch  int    `json:"batch"`
	Guard  string `json:"guard"`
	Middle string `json:"middle"`
	Exit   string `json:"exit"`
}

// SQLiteStore records runs, order outcomes and accepted circuits.
// It implements simulation.Recorder and is safe for concurrent use.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*SQLiteStore, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BeginRun inserts the run row.
func (s *SQLiteStore) BeginRun(ctx context.Context, run simulation.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, name, seed, orders, relays, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, strconv.FormatUint(run.Seed, 10), run.Orders, run.Relays,
		run.StartedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishOrder records an order outcome. Recording an order twice replaces
// the earlier row.
func (s *SQLiteStore) FinishOrder(ctx context.Context, runID string, res simulation.OrderResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errText sql.NullString
	if res.Err != nil {
		errText = sql.NullString{String: res.Err.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orders (run_id, idx, line, quota, state, created, batches, drawn, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, res.Index, res.Line, res.Quota, res.State.String(),
		res.Created, res.Batches, res.Drawn, errText)
	if err != nil {
		return fmt.Errorf("failed to record order %d: %w", res.Index, err)
	}
	return nil
}

// FinishRun stamps the run's delivered total and finish time.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, delivered int, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET delivered = ?, finished_at = ? WHERE id = ?`,
		delivered, finishedAt.UTC().Format(timeFormat), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// Sink returns a generator.Sink that stores every delivered circuit under runID.
func (s *SQLiteStore) Sink(runID string) generator.Sink {
	return generator.SinkFunc(func(ctx context.Context, b generator.Batch) error {
		return s.insertBatch(ctx, runID, b)
	})
}

func (s *SQLiteStore) insertBatch(ctx context.Context, runID string, b generator.Batch) error {
	if len(b.Circuits) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO circuits (run_id, order_idx, batch, guard, middle, exit)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare circuit insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range b.Circuits {
		if _, err := stmt.ExecContext(ctx, runID, b.Order.Index, b.Iteration,
			c.Guard.Fingerprint, c.Middle.Fingerprint, c.Exit.Fingerprint); err != nil {
			return fmt.Errorf("failed to insert circuit: %w", err)
		}
	}
	return tx.Commit()
}

// CircuitCount returns the stored circuits of a run. order > 0 restricts
// the count to one order.
func (s *SQLiteStore) CircuitCount(ctx context.Context, runID string, order int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT COUNT(*) FROM circuits WHERE run_id = ?`
	args := []any{runID}
	if order > 0 {
		query += ` AND order_idx = ?`
		args = append(args, order)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count circuits: %w", err)
	}
	return n, nil
}

const runColumns = `
	r.id, COALESCE(r.name, ''), r.seed, r.orders, r.relays, r.delivered,
	r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM orders o WHERE o.run_id = r.id AND o.error IS NOT NULL)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunSummary, error) {
	var (
		r        RunSummary
		seed     string
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Name, &seed, &r.Orders, &r.Relays, &r.Delivered,
		&started, &finished, &r.Failed); err != nil {
		return r, err
	}

	var err error
	if r.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return r, fmt.Errorf("run %s: bad seed %q: %w", r.ID, seed, err)
	}
	if r.StartedAt, err = time.Parse(timeFormat, started); err != nil {
		return r, fmt.Errorf("run %s: bad started_at: %w", r.ID, err)
	}
	if finished.Valid {
		t, err := time.Parse(timeFormat, finished.String)
		if err != nil {
			return r, fmt.Errorf("run %s: bad finished_at: %w", r.ID, err)
		}
		r.FinishedAt = &t
	}
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT ` + runColumns + ` FROM runs r ORDER BY r.started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

// Circuits returns the stored circuits of a run in insertion order.
func (s *SQLiteStore) Circuits(ctx context.Context, runID string) ([]CircuitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT order_idx, batch, guard, middle, exit
		FROM circuits WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query circuits: %w", err)
	}
	defer rows.Close()

	var out []CircuitRecord
	for rows.Next() {
		var c CircuitRecord
		if err := rows.Scan(&c.Order, &c.Batch, &c.Guard, &c.Middle, &c.Exit); err != nil {
			return nil, fmt.Errorf("failed to scan circuit: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Orders returns the recorded orders of a run in index order.
func (s *SQLiteStore) Orders(ctx context.Context, runID string) ([]OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to look up run: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, COALESCE(line, 0), quota, state, created, batches, drawn, COALESCE(error, '')
		FROM orders WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var o OrderRecord
		if err := rows.Scan(&o.Index, &o.Line, &o.Quota, &o.State, &o.Created, &o.Batches, &o.Drawn, &o.Error); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

var _ simulation.Recorder = (*SQLiteStore)(nil)

// Package history keeps a SQLite record of pol2cat runs, the Starlink
// tasks each one invoked and the vectors it produced.
package history

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/pol2cat/internal/catalogue"
	"github.com/banshee-data/pol2cat/internal/monitoring"
	"github.com/banshee-data/pol2cat/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// Store is an open history database.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the database at path and brings its schema up to
// date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// One connection, so ":memory:" databases keep their contents.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure history database: %w", err)
	}

	s := &Store{db: db, clock: timeutil.RealClock{}}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: that would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version.
func (s *Store) Version() (uint, error) {
	var v uint
	err := s.db.QueryRow("SELECT version FROM schema_migrations LIMIT 1").Scan(&v)
	return v, err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// Run records one pipeline run. It implements starlink.Recorder.
type Run struct {
	ID    string
	store *Store

	mu  sync.Mutex
	seq int
}

// BeginRun inserts a new run in the running state.
func (s *Store) BeginRun(input, cat, target string) (*Run, error) {
	if target == "" {
		target = "local"
	}
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, started_at, input, catalogue, target, status) VALUES (?, ?, ?, ?, ?, ?)`,
		id, s.clock.Now().UnixMilli(), input, cat, target, StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return &Run{ID: id, store: s}, nil
}

// RecordInvocation stores one Starlink task invocation. Failures to write
// are logged, not returned, so history never stops a run.
func (r *Run) RecordInvocation(command, output string, elapsed time.Duration, err error) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	failed, msg := 0, ""
	if err != nil {
		failed, msg = 1, err.Error()
	}
	_, dbErr := r.store.db.Exec(
		`INSERT INTO invocations (run_id, seq, tool, command, elapsed_ms, failed, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, seq, toolName(command), command, elapsed.Milliseconds(), failed, msg,
	)
	if dbErr != nil {
		monitoring.Logf("history: failed to record invocation %d of run %s: %v", seq, r.ID, dbErr)
	}
}

func toolName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	name := fields[0]
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func nullable(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: !math.IsNaN(f) && !math.IsInf(f, 0)}
}

// SaveVectors stores the catalogue rows of the run in one transaction.
func (r *Run) SaveVectors(vs []catalogue.Vector) error {
	tx, err := r.store.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO vectors (run_id, x, y, ra, dec, p, ang, pi, dpi) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range vs {
		if _, err := stmt.Exec(r.ID, v.X, v.Y, nullable(v.RA.Rad()), nullable(v.Dec.Rad()),
			nullable(v.P), nullable(v.Ang), nullable(v.PI), nullable(v.DPI)); err != nil {
			return fmt.Errorf("failed to insert vector: %w", err)
		}
	}
	if _, err := tx.Exec(`UPDATE runs SET n_vectors = ? WHERE run_id = ?`, len(vs), r.ID); err != nil {
		return fmt.Errorf("failed to update vector count: %w", err)
	}
	return tx.Commit()
}

// Outcome is what a finished run reports.
type Outcome struct {
	Subarrays []string
	Summary   catalogue.Summary
	Err       error
}

// Finish marks the run complete, failed when o.Err is set.
func (r *Run) Finish(o Outcome) error {
	status, msg := StatusOK, ""
	if o.Err != nil {
		status, msg = StatusFailed, o.Err.Error()
	}
	var meanP sql.NullFloat64
	if o.Summary.N > 0 {
		meanP = nullable(o.Summary.MeanP)
	}
	_, err := r.store.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, subarrays = ?, n_selected = ?, mean_p = ?, error = ? WHERE run_id = ?`,
		r.store.clock.Now().UnixMilli(), status, strings.Join(o.Subarrays, ","), o.Summary.Selected, meanP, msg, r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RunInfo is one row of the run listing.
type RunInfo struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running
	Input       string
	Catalogue   string
	Target      string
	Status      string
	Subarrays   []string
	Vectors     int
	Selected    int
	MeanP       float64 // NaN when unknown
	Error       string
	Invocations int
}

// Duration returns the run time, or zero while it is running.
func (ri RunInfo) Duration() time.Duration {
	if ri.FinishedAt.IsZero() {
		return 0
	}
	return ri.FinishedAt.Sub(ri.StartedAt)
}

// ListRuns returns up to limit runs, newest first. A limit below one
// returns every run.
func (s *Store) ListRuns(limit int) ([]RunInfo, error) {
	if limit < 1 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT r.run_id, r.started_at, r.finished_at, r.input, r.catalogue, r.target,
		       r.status, r.subarrays, r.n_vectors, r.n_selected, r.mean_p, r.error,
		       (SELECT COUNT(*) FROM invocations i WHERE i.run_id = r.run_id)
		FROM runs r
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			ri       RunInfo
			started  int64
			finished sql.NullInt64
			subs     string
			meanP    sql.NullFloat64
		)
		if err := rows.Scan(&ri.ID, &started, &finished, &ri.Input, &ri.Catalogue, &ri.Target,
			&ri.Status, &subs, &ri.Vectors, &ri.Selected, &meanP, &ri.Error, &ri.Invocations); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		ri.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			ri.FinishedAt = time.UnixMilli(finished.Int64)
		}
		if subs != "" {
			ri.Subarrays = strings.Split(subs, ",")
		}
		ri.MeanP = math.NaN()
		if meanP.Valid {
			ri.MeanP = meanP.Float64
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// Invocation is one recorded task.
type Invocation struct {
	Seq     int
	Tool    string
	Command string
	Elapsed time.Duration
	Failed  bool
	Error   string
}

// Invocations returns the tasks run by runID, in order.
func (s *Store) Invocations(runID string) ([]Invocation, error) {
	rows, err := s.db.Query(
		`SELECT seq, tool, command, elapsed_ms, failed, error FROM invocations WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var (
			inv Invocation
			ms  int64
		)
		if err := rows.Scan(&inv.Seq, &inv.Tool, &inv.Command, &ms, &inv.Failed, &inv.Error); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		inv.Elapsed = time.Duration(ms) * time.Millisecond
		out = append(out, inv)
	}
	return out, rows.Err()
}

// VectorCount returns the number of stored vectors for runID.
func (s *Store) VectorCount(runID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM vectors WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// Package store persists mutant outcomes and run history in SQLite.
//
// Outcomes are keyed by the runner cache key, so an unchanged mutant of an
// unchanged target against unchanged tests is never executed twice. Runs
// record one row per campaign for `mutiny history`.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"mutiny/internal/logging"
	"mutiny/internal/mutation"
)

// Driver names registered by the two SQLite packages.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCGO     = "sqlite3" // github.com/mattn/go-sqlite3
)

// timeLayout has fixed-width fractions so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when a key or run does not exist.
var ErrNotFound = errors.New("not found")

// Run is one campaign in the history table.
type Run struct {
	ID         string
	Target     string
	Total      int
	Killed     int
	Survived   int
	Timeouts   int
	Errors     int
	Score      int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store is a SQLite-backed result cache and run history.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	driver string
}

// Open opens or creates the database at path with the given driver.
func Open(driver, path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	s := &Store{db: db, dbPath: path, driver: driver}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("Result store ready at %s (driver %s)", path, driver)
	return s, nil
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS mutant_results (
		cache_key TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		test_output TEXT NOT NULL DEFAULT '',
		killed_by TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		total INTEGER NOT NULL,
		killed INTEGER NOT NULL,
		survived INTEGER NOT NULL,
		timeouts INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		score INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.dbPath
}

// Lookup returns the stored outcome for a cache key.
func (s *Store) Lookup(ctx context.Context, key string) (mutation.Outcome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var status, output, killedBy string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, test_output, killed_by FROM mutant_results WHERE cache_key = ?`, key,
	).Scan(&status, &output, &killedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return mutation.Outcome{}, false, nil
	}
	if err != nil {
		return mutation.Outcome{}, false, fmt.Errorf("failed to look up %s: %w", key, err)
	}

	o := mutation.Outcome{Status: mutation.Status(status), TestOutput: output}
	if err := json.Unmarshal([]byte(killedBy), &o.KilledBy); err != nil {
		logging.StoreWarn("Discarding corrupt killed_by for %s: %v", key, err)
	}
	if o.KilledBy == nil {
		o.KilledBy = []string{}
	}
	return o, true, nil
}

// Record stores an outcome, replacing any previous one for the key.
func (s *Store) Record(ctx context.Context, key string, o mutation.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	killedBy := o.KilledBy
	if killedBy == nil {
		killedBy = []string{}
	}
	data, err := json.Marshal(killedBy)
	if err != nil {
		return fmt.Errorf("failed to marshal killed_by: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO mutant_results (cache_key, status, test_output, killed_by, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		key, string(o.Status), o.TestOutput, string(data))
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", key, err)
	}
	return nil
}

// SaveRun inserts or updates a run row.
func (s *Store) SaveRun(ctx context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
		 (id, target, total, killed, survived, timeouts, errors, score, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Target, r.Total, r.Killed, r.Survived, r.Timeouts, r.Errors, r.Score,
		r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", r.ID, err)
	}
	logging.StoreDebug("Saved run %s (%d mutants, score %d%%)", r.ID, r.Total, r.Score)
	return nil
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, target, total, killed, survived, timeouts, errors, score, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Target, &r.Total, &r.Killed, &r.Survived,
			&r.Timeouts, &r.Errors, &r.Score, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	runs, err := s.Runs(ctx, 0)
	if err != nil {
		return Run{}, err
	}
	for _, r := range runs {
		if r.ID == id {
			return r, nil
		}
	}
	return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
}

// Prune deletes cached outcomes not updated since before.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM mutant_results WHERE updated_at < ?`, before.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("failed to prune results: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Store("Pruned %d cached outcomes", n)
	return n, nil
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

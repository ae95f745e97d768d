// Package storage provides SQLite-backed archives of ingested polls and forecast runs.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/evforecast/internal/models"
)

var ErrNotFound = errors.New("not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db         *sql.DB
	maxHistory int
}

// New opens or creates the SQLite database at dbPath, keeping at most
// maxHistory poll snapshots and maxHistory runs.
// An empty dbPath defaults to $TMPDIR/evforecast/data.db.
func New(maxHistory int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "evforecast", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxHistory: maxHistory}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS poll_snapshots (
			id          TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			fetched_at  INTEGER NOT NULL,
			row_count   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS polls (
			snapshot_id TEXT NOT NULL REFERENCES poll_snapshots(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			state_name  TEXT NOT NULL,
			support_a   REAL NOT NULL,
			support_b   REAL NOT NULL,
			weight      INTEGER NOT NULL,
			moe         REAL NOT NULL,
			PRIMARY KEY (snapshot_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id             TEXT PRIMARY KEY,
			started_at     INTEGER NOT NULL,
			duration_ns    INTEGER NOT NULL,
			seed           INTEGER NOT NULL,
			trials         INTEGER NOT NULL,
			multiplier     REAL NOT NULL,
			wins_a         INTEGER NOT NULL,
			wins_b         INTEGER NOT NULL,
			ties           INTEGER NOT NULL,
			mean_votes_a   REAL NOT NULL,
			stddev_votes_a REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_poll_snapshots_fetched_at ON poll_snapshots(fetched_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SavePollSnapshot archives one ingestion's polls and returns the snapshot ID.
func (s *Storage) SavePollSnapshot(source string, fetchedAt time.Time, polls []models.PollRecord) (string, error) {
	id := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`
		INSERT INTO poll_snapshots (id, source, fetched_at, row_count) VALUES (?,?,?,?)`,
		id, source, fetchedAt.UnixNano(), len(polls),
	); err != nil {
		return "", fmt.Errorf("failed to insert snapshot: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO polls (snapshot_id, seq, state_name, support_a, support_b, weight, moe)
		VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare poll insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range polls {
		if _, err := stmt.Exec(id, i, p.StateName, p.SupportA, p.SupportB, p.Weight, p.MarginOfError); err != nil {
			return "", fmt.Errorf("failed to insert poll: %w", err)
		}
	}

	if _, err := tx.Exec(`
		DELETE FROM poll_snapshots WHERE id NOT IN (
			SELECT id FROM poll_snapshots ORDER BY fetched_at DESC LIMIT ?
		)`, s.maxHistory); err != nil {
		return "", fmt.Errorf("failed to enforce snapshot cap: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return id, nil
}

// LatestPolls returns the polls of the most recent snapshot and its fetch time.
func (s *Storage) LatestPolls() ([]models.PollRecord, time.Time, error) {
	var id string
	var fetchedAtNano int64
	err := s.db.QueryRow(`
		SELECT id, fetched_at FROM poll_snapshots ORDER BY fetched_at DESC LIMIT 1`,
	).Scan(&id, &fetchedAtNano)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, fmt.Errorf("poll snapshot %w", ErrNotFound)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT state_name, support_a, support_b, weight, moe
		FROM polls WHERE snapshot_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to query polls: %w", err)
	}
	defer rows.Close()

	polls := []models.PollRecord{}
	for rows.Next() {
		var p models.PollRecord
		if err := rows.Scan(&p.StateName, &p.SupportA, &p.SupportB, &p.Weight, &p.MarginOfError); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan poll: %w", err)
		}
		polls = append(polls, p)
	}
	return polls, time.Unix(0, fetchedAtNano), rows.Err()
}

// SaveRun archives a forecast run. An empty ID is filled with a new UUID.
func (s *Storage) SaveRun(run *models.RunSummary) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO runs
			(id, started_at, duration_ns, seed, trials, multiplier,
			 wins_a, wins_b, ties, mean_votes_a, stddev_votes_a)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.StartedAt.UnixNano(), int64(run.Duration), int64(run.Seed), run.Trials,
		run.UncertaintyMultiplier, run.Summary.A, run.Summary.B, run.Summary.Ties,
		run.MeanVotesA, run.StdDevVotesA,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, s.maxHistory); err != nil {
		return fmt.Errorf("failed to enforce run cap: %w", err)
	}

	return tx.Commit()
}

const runCols = `id, started_at, duration_ns, seed, trials, multiplier,
	wins_a, wins_b, ties, mean_votes_a, stddev_votes_a`

func scanRun(scan func(...any) error) (*models.RunSummary, error) {
	var r models.RunSummary
	var startedAtNano, durationNano, seed int64
	err := scan(
		&r.ID, &startedAtNano, &durationNano, &seed, &r.Trials, &r.UncertaintyMultiplier,
		&r.Summary.A, &r.Summary.B, &r.Summary.Ties, &r.MeanVotesA, &r.StdDevVotesA,
	)
	if err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(0, startedAtNano)
	r.Duration = time.Duration(durationNano)
	r.Seed = uint64(seed)
	return &r, nil
}

// GetRun returns one archived run.
func (s *Storage) GetRun(id string) (*models.RunSummary, error) {
	row := s.db.QueryRow(`SELECT `+runCols+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// LatestRuns returns up to k runs, newest first.
func (s *Storage) LatestRuns(k int) ([]*models.RunSummary, error) {
	rows, err := s.db.Query(`SELECT `+runCols+` FROM runs ORDER BY started_at DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.RunSummary{}
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

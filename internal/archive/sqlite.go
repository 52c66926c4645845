package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nidhogg/pastoralscape/internal/sim"
)

var (
	// ErrRedundantRun is returned when a (params hash, seed) pair was already archived.
	ErrRedundantRun = errors.New("run already archived")
	// ErrParamsMismatch is returned when an archive bound to one parameter
	// set is asked to hold runs of another.
	ErrParamsMismatch = errors.New("archive holds a different parameter set")
	// ErrNotFound is returned for unknown run ids.
	ErrNotFound = errors.New("run not found")
)

// Entry is one archived run.
type Entry struct {
	RunID      string      `json:"run_id"`
	ParamsHash string      `json:"params_hash"`
	Seed       uint64      `json:"seed"`
	Digest     string      `json:"digest"`
	RecordedAt time.Time   `json:"recorded_at"`
	Summary    sim.Summary `json:"summary"`
}

// SQLiteArchive is a local index of completed runs. One archive file holds
// the runs of one parameter set.
type SQLiteArchive struct {
	db *sql.DB
}

// OpenSQLite opens or creates the archive at path.
func OpenSQLite(path string) (*SQLiteArchive, error) {
	if path == "" {
		return nil, fmt.Errorf("empty archive path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return &SQLiteArchive{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			params_hash TEXT NOT NULL,
			seed INTEGER NOT NULL,
			digest TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			summary_json TEXT NOT NULL,
			UNIQUE (params_hash, seed)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_recorded_at ON runs(recorded_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (a *SQLiteArchive) Close() error { return a.db.Close() }

// Check reports whether a run of (paramsHash, seed) may be recorded.
func (a *SQLiteArchive) Check(ctx context.Context, paramsHash string, seed uint64) error {
	var bound string
	err := a.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='params_hash'`).Scan(&bound)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read archive meta: %w", err)
	case bound != paramsHash:
		return fmt.Errorf("%w: archive=%s run=%s", ErrParamsMismatch, short(bound), short(paramsHash))
	}

	var n int
	if err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE params_hash=? AND seed=?`, paramsHash, int64(seed)).Scan(&n); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: params=%s seed=%d", ErrRedundantRun, short(paramsHash), seed)
	}
	return nil
}

// Record archives out after the same checks as Check.
func (a *SQLiteArchive) Record(ctx context.Context, out *sim.Output) error {
	if err := a.Check(ctx, out.ParamsHash, out.Seed); err != nil {
		return err
	}
	summary, err := json.Marshal(out.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES('params_hash', ?) ON CONFLICT(key) DO NOTHING`, out.ParamsHash); err != nil {
		return fmt.Errorf("bind archive: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(run_id, params_hash, seed, digest, recorded_at, summary_json) VALUES(?,?,?,?,?,?)`,
		out.RunID, out.ParamsHash, int64(out.Seed), out.Digest,
		time.Now().UTC().Format(time.RFC3339), string(summary)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return tx.Commit()
}

// Get returns one archived run.
func (a *SQLiteArchive) Get(ctx context.Context, runID string) (*Entry, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT run_id, params_hash, seed, digest, recorded_at, summary_json FROM runs WHERE run_id=?`, runID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// List returns archived runs, oldest first.
func (a *SQLiteArchive) List(ctx context.Context) ([]Entry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT run_id, params_hash, seed, digest, recorded_at, summary_json FROM runs ORDER BY recorded_at, seed`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e        Entry
		seed     int64
		recorded string
		summary  string
	)
	if err := s.Scan(&e.RunID, &e.ParamsHash, &seed, &e.Digest, &recorded, &summary); err != nil {
		return nil, err
	}
	e.Seed = uint64(seed)
	e.RecordedAt, _ = time.Parse(time.RFC3339, recorded)
	if err := json.Unmarshal([]byte(summary), &e.Summary); err != nil {
		return nil, fmt.Errorf("decode summary of %s: %w", e.RunID, err)
	}
	return &e, nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// Package ledger records every pipeline run so a payload digest can be traced
// to the artifact, backend and preflight verdict it produced.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("ledger: run not found")

// timeLayout sorts lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one ledger row.
type Run struct {
	RunID          string    `json:"run_id"`
	PayloadDigest  string    `json:"payload_digest"`
	Mode           string    `json:"mode"`
	BackendUsed    string    `json:"backend_used,omitempty"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	ArtifactPath   string    `json:"artifact_path,omitempty"`
	ArtifactDigest string    `json:"artifact_digest,omitempty"`
	FailedGates    []string  `json:"failed_gates,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists runs. Queries use $N placeholders, which both drivers accept.
type Store struct {
	db *sql.DB
}

// Open picks the driver from the DSN: postgres:// and postgresql:// use
// lib/pq, anything else is a SQLite path or file: URI.
func Open(ctx context.Context, dsn string) (*Store, error) {
	driver, source := "sqlite", strings.TrimPrefix(dsn, "sqlite://")
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, source = "postgres", dsn
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	s := NewStore(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

// Init creates the schema if needed.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			payload_digest TEXT NOT NULL,
			mode TEXT NOT NULL,
			backend_used TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			artifact_path TEXT NOT NULL DEFAULT '',
			artifact_digest TEXT NOT NULL DEFAULT '',
			failed_gates TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS runs_digest_idx ON runs (payload_digest, status, created_at)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ledger init: %w", err)
		}
	}
	return nil
}

// Record inserts r. Run ids are unique.
func (s *Store) Record(ctx context.Context, r Run) error {
	if r.RunID == "" {
		return errors.New("ledger: run id is required")
	}
	gates := r.FailedGates
	if gates == nil {
		gates = []string{}
	}
	gatesJSON, err := json.Marshal(gates)
	if err != nil {
		return err
	}
	query := `INSERT INTO runs (run_id, payload_digest, mode, backend_used, status, reason, artifact_path, artifact_digest, failed_gates, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.db.ExecContext(ctx, query,
		r.RunID, r.PayloadDigest, r.Mode, r.BackendUsed, r.Status, r.Reason,
		r.ArtifactPath, r.ArtifactDigest, string(gatesJSON), r.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

const selectRun = `SELECT run_id, payload_digest, mode, backend_used, status, reason, artifact_path, artifact_digest, failed_gates, created_at FROM runs`

func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	return s.queryOne(ctx, selectRun+` WHERE run_id = $1`, runID)
}

// LastPass returns the newest PASS run for a payload digest.
func (s *Store) LastPass(ctx context.Context, digest string) (Run, error) {
	return s.queryOne(ctx, selectRun+` WHERE payload_digest = $1 AND status = 'PASS' ORDER BY created_at DESC LIMIT 1`, digest)
}

// List returns the newest runs first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r       Run
		gates   string
		created string
	)
	if err := sc.Scan(&r.RunID, &r.PayloadDigest, &r.Mode, &r.BackendUsed, &r.Status, &r.Reason,
		&r.ArtifactPath, &r.ArtifactDigest, &gates, &created); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(gates), &r.FailedGates); err != nil {
		return Run{}, fmt.Errorf("decode failed gates: %w", err)
	}
	if len(r.FailedGates) == 0 {
		r.FailedGates = nil
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return Run{}, fmt.Errorf("decode created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

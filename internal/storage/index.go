package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	frequency_hz REAL NOT NULL,
	permittivity REAL NOT NULL,
	thickness_mm REAL NOT NULL,
	impedance_ohm REAL NOT NULL,
	resonance_hz REAL NOT NULL,
	min_s11_db REAL NOT NULL,
	bandwidth_hz REAL NOT NULL,
	peak_gain_dbi REAL NOT NULL,
	engine TEXT NOT NULL DEFAULT '',
	engine_version TEXT NOT NULL DEFAULT '',
	geometry_digest TEXT NOT NULL DEFAULT '',
	record_digest TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_created ON runs (created_at);`

func (s *Store) index(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := sql.Open("sqlite", filepath.Join(s.baseDir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// sqlite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	s.db = db
	return db, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRun(ctx context.Context, db execer, m RunMetadata) error {
	const q = `INSERT OR REPLACE INTO runs (
		id, created_at, frequency_hz, permittivity, thickness_mm, impedance_ohm,
		resonance_hz, min_s11_db, bandwidth_hz, peak_gain_dbi,
		engine, engine_version, geometry_digest, record_digest
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		m.ID, m.CreatedAt.UTC().Format(time.RFC3339Nano),
		m.Spec.FrequencyHz, m.Spec.Permittivity, m.Spec.ThicknessMM, m.Spec.ImpedanceOhm,
		m.Merit.ResonanceHz, m.Merit.MinS11DB, m.Merit.BandwidthHz, m.Merit.PeakGainDBi,
		m.Engine, m.EngineVersion, m.GeometryDigest, m.RecordDigest,
	)
	if err != nil {
		return fmt.Errorf("index run %s: %w", m.ID, err)
	}
	return nil
}

// Filter narrows List. Zero values impose no constraint.
type Filter struct {
	Limit       int
	MatchedOnly bool
	MinHz       float64
	MaxHz       float64
}

// List returns indexed runs, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]RunMetadata, error) {
	db, err := s.index(ctx)
	if err != nil {
		return nil, err
	}

	q := `SELECT id, created_at, frequency_hz, permittivity, thickness_mm, impedance_ohm,
		resonance_hz, min_s11_db, bandwidth_hz, peak_gain_dbi,
		engine, engine_version, geometry_digest, record_digest
		FROM runs WHERE 1=1`
	var args []any
	if f.MatchedOnly {
		q += ` AND min_s11_db <= -10`
	}
	if f.MinHz > 0 {
		q += ` AND frequency_hz >= ?`
		args = append(args, f.MinHz)
	}
	if f.MaxHz > 0 {
		q += ` AND frequency_hz <= ?`
		args = append(args, f.MaxHz)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	runs := make([]RunMetadata, 0)
	for rows.Next() {
		var m RunMetadata
		var created string
		if err := rows.Scan(&m.ID, &created,
			&m.Spec.FrequencyHz, &m.Spec.Permittivity, &m.Spec.ThicknessMM, &m.Spec.ImpedanceOhm,
			&m.Merit.ResonanceHz, &m.Merit.MinS11DB, &m.Merit.BandwidthHz, &m.Merit.PeakGainDBi,
			&m.Engine, &m.EngineVersion, &m.GeometryDigest, &m.RecordDigest,
		); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("run %s: bad timestamp: %w", m.ID, err)
		}
		runs = append(runs, m)
	}
	return runs, rows.Err()
}

// Reindex rebuilds the index from the run directories on disk and returns
// the number of runs indexed.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	db, err := s.index(ctx)
	if err != nil {
		return 0, err
	}
	runs, err := s.scanDir()
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs`); err != nil {
		return 0, err
	}
	for _, m := range runs {
		if err := insertRun(ctx, tx, m); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(runs), nil
}

// Delete removes a run directory and its index row.
func (s *Store) Delete(ctx context.Context, runID string) error {
	dir, err := s.Path(runID, "")
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	db, err := s.index(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Package storage keeps a catalogue of finished runs: one directory per
// run holding its outputs, plus a sqlite index for listing and queries.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/geometry"
	"github.com/san-kum/patchsim/internal/orchestrator"
	"github.com/san-kum/patchsim/internal/results"
)

const (
	MetadataFile = "metadata.json"
	TouchFile    = "result.s1p"
	MetricsFile  = "metrics.csv"
	BundleFile   = "bundle.json"
	GeometryFile = "geometry.json"
	IndexFile    = "index.db"
)

var (
	ErrRunNotFound = errors.New("storage: run not found")
	ErrBadRunID    = errors.New("storage: malformed run id")
)

type Store struct {
	baseDir string
	now     func() time.Time

	mu sync.Mutex
	db *sql.DB
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

// Dir is the catalogue root.
func (s *Store) Dir() string { return s.baseDir }

// Init creates the catalogue directory and opens the index.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return err
	}
	_, err := s.index(context.Background())
	return err
}

// Close releases the index connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// RunMetadata is the per-run summary written to metadata.json and mirrored
// into the index.
type RunMetadata struct {
	ID             string             `json:"id"`
	CreatedAt      time.Time          `json:"created_at"`
	Spec           antenna.DesignSpec `json:"spec"`
	SessionID      string             `json:"session_id,omitempty"`
	Retries        int                `json:"retries"`
	Engine         string             `json:"engine"`
	EngineVersion  string             `json:"engine_version"`
	Setup          string             `json:"setup"`
	Sweep          string             `json:"sweep"`
	GeometryDigest string             `json:"geometry_digest"`
	RecordDigest   string             `json:"record_digest"`
	Merit          results.Merit      `json:"merit"`
}

// Matched reports whether the run reached the -10 dB match threshold.
func (m RunMetadata) Matched() bool {
	return m.Merit.MinS11DB <= results.MatchThresholdDB
}

func newRunID(now time.Time) string {
	return fmt.Sprintf("%s_%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

func checkRunID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadRunID, id)
	}
	return nil
}

// Path is the location of a file inside a run directory.
func (s *Store) Path(runID, name string) (string, error) {
	if err := checkRunID(runID); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, runID, name), nil
}

// Save writes every output of a finished run and indexes it. A partially
// written run directory is removed on failure.
func (s *Store) Save(ctx context.Context, out *orchestrator.Outcome) (id string, err error) {
	if out == nil || out.Record == nil {
		return "", results.ErrNoData
	}
	db, err := s.index(ctx)
	if err != nil {
		return "", err
	}

	now := s.now()
	id = newRunID(now)
	runDir := filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(runDir)
		}
	}()

	recDigest, err := results.Digest(out.Record)
	if err != nil {
		return "", err
	}
	meta := RunMetadata{
		ID:             id,
		CreatedAt:      now.UTC(),
		Spec:           out.Spec,
		Retries:        out.Session.Retries,
		Engine:         out.Record.Meta.Engine,
		EngineVersion:  out.Record.Meta.EngineVersion,
		Setup:          out.Record.Setup,
		Sweep:          out.Record.Sweep,
		GeometryDigest: out.GeometryDigest,
		RecordDigest:   recDigest,
		Merit:          out.Merit,
	}
	if out.Session.ID != uuid.Nil {
		meta.SessionID = out.Session.ID.String()
	}

	if err := writeJSONFile(filepath.Join(runDir, MetadataFile), meta); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(runDir, TouchFile), func(f *os.File) error {
		return results.WriteTouchstone(f, results.NetworkOf(out.Record),
			"patchsim run "+id,
			fmt.Sprintf("design %.6g Hz, er %.4g, h %.4g mm", out.Spec.FrequencyHz, out.Spec.Permittivity, out.Spec.ThicknessMM),
		)
	}); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(runDir, MetricsFile), func(f *os.File) error {
		return results.WriteCSV(f, out.Record)
	}); err != nil {
		return "", err
	}
	bundle := results.NewBundle(out.Record, &out.Parameters, out.GeometryDigest)
	bundle.RunID = id
	bundle.Merit = out.Merit
	if err := writeFile(filepath.Join(runDir, BundleFile), func(f *os.File) error {
		return results.WriteJSON(f, bundle)
	}); err != nil {
		return "", err
	}
	if len(out.Commands) > 0 {
		canon, err := geometry.Canonical(out.Commands)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(runDir, GeometryFile), canon, 0644); err != nil {
			return "", err
		}
	}

	if err := insertRun(ctx, db, meta); err != nil {
		return "", err
	}
	return id, nil
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSONFile(path string, v any) error {
	return writeFile(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// Load reads a run's metadata.
func (s *Store) Load(runID string) (*RunMetadata, error) {
	path, err := s.Path(runID, MetadataFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadBundle reads and validates a run's bundle.json.
func (s *Store) LoadBundle(runID string) (results.Bundle, error) {
	path, err := s.Path(runID, BundleFile)
	if err != nil {
		return results.Bundle{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return results.Bundle{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return results.Bundle{}, err
	}
	defer f.Close()
	return results.ReadJSON(f)
}

// LoadRecord returns the full result record of a run.
func (s *Store) LoadRecord(runID string) (*results.Record, error) {
	b, err := s.LoadBundle(runID)
	if err != nil {
		return nil, err
	}
	return b.Record, nil
}

// LoadSweep reads metrics.csv without decoding the bundle.
func (s *Store) LoadSweep(runID string) (results.Sweep, error) {
	path, err := s.Path(runID, MetricsFile)
	if err != nil {
		return results.Sweep{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return results.Sweep{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return results.Sweep{}, err
	}
	defer f.Close()
	return results.ReadCSV(f)
}

// LoadGeometry reads the command sequence a run was solved for.
func (s *Store) LoadGeometry(runID string) (geometry.Sequence, error) {
	path, err := s.Path(runID, GeometryFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	return geometry.UnmarshalJSON(data)
}

// scanDir reads metadata.json from every run directory, skipping anything
// unreadable.
func (s *Store) scanDir() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	return runs, nil
}

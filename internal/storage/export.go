package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/san-kum/patchsim/internal/geometry"
	"github.com/san-kum/patchsim/internal/results"
)

type Format string

const (
	FormatTouchstone Format = "touchstone"
	FormatCSV        Format = "csv"
	FormatJSON       Format = "json"
	// FormatGeometry is the canonical command sequence a run was solved for.
	FormatGeometry Format = "geometry"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTouchstone, FormatCSV, FormatJSON, FormatGeometry:
		return f, nil
	case "s1p", "s2p", "snp":
		return FormatTouchstone, nil
	}
	return "", fmt.Errorf("unknown export format %q (touchstone, csv, json, geometry)", s)
}

// FormatFromPath guesses the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// ExportBundle writes b in the requested format.
func ExportBundle(w io.Writer, format Format, b results.Bundle) error {
	if b.Record == nil {
		return results.ErrNoData
	}
	switch format {
	case FormatTouchstone:
		comments := []string{"patchsim export"}
		if b.RunID != "" {
			comments = append(comments, "run "+b.RunID)
		}
		return results.WriteTouchstone(w, results.NetworkOf(b.Record), comments...)
	case FormatCSV:
		return results.WriteCSV(w, b.Record)
	case FormatJSON:
		return results.WriteJSON(w, b)
	case FormatGeometry:
		return fmt.Errorf("%w: a bundle does not carry its geometry", results.ErrNoData)
	}
	return fmt.Errorf("unknown export format %q", format)
}

// Export writes a stored run to w. CSV and geometry are read from the
// run's own files; the other formats go through the bundle.
func (s *Store) Export(w io.Writer, runID string, format Format) error {
	switch format {
	case FormatCSV:
		sw, err := s.LoadSweep(runID)
		if err != nil {
			return err
		}
		return results.WriteSweepCSV(w, sw)
	case FormatGeometry:
		seq, err := s.LoadGeometry(runID)
		if err != nil {
			return err
		}
		canon, err := geometry.Canonical(seq)
		if err != nil {
			return err
		}
		_, err = w.Write(append(canon, '\n'))
		return err
	}
	b, err := s.LoadBundle(runID)
	if err != nil {
		return err
	}
	return ExportBundle(w, format, b)
}

// ExportFile writes a stored run to path, creating or truncating it.
func (s *Store) ExportFile(path, runID string, format Format) error {
	return writeFile(path, func(f *os.File) error {
		return s.Export(f, runID, format)
	})
}

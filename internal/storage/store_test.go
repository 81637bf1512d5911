package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/patchsim/internal/antenna"
	"github.com/san-kum/patchsim/internal/engine/cavity"
	"github.com/san-kum/patchsim/internal/geometry"
	"github.com/san-kum/patchsim/internal/logging"
	"github.com/san-kum/patchsim/internal/orchestrator"
	"github.com/san-kum/patchsim/internal/results"
	"github.com/san-kum/patchsim/internal/session"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	st := New(t.TempDir())
	require.NoError(t, st.Init())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// runInto solves spec on the cavity engine and persists it into st.
func runInto(t *testing.T, st *Store, freq float64) *orchestrator.Outcome {
	t.Helper()
	cfg := orchestrator.DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	o, err := orchestrator.New(session.NewPool(cavity.New(), 1), cfg,
		orchestrator.WithLogger(logging.Noop()),
		orchestrator.WithSink(st),
	)
	require.NoError(t, err)

	spec, err := antenna.NewDesignSpec(freq, 4.4, 1.6, 50)
	require.NoError(t, err)
	out, err := o.Run(context.Background(), spec)
	require.NoError(t, err)
	require.NotEmpty(t, out.RunID)
	return out
}

func TestStoreSaveLoad(t *testing.T) {
	st := newStore(t)
	out := runInto(t, st, 2.4e9)

	meta, err := st.Load(out.RunID)
	require.NoError(t, err)
	assert.Equal(t, out.RunID, meta.ID)
	assert.Equal(t, 2.4e9, meta.Spec.FrequencyHz)
	assert.Equal(t, cavity.Name, meta.Engine)
	assert.Equal(t, out.GeometryDigest, meta.GeometryDigest)
	assert.Equal(t, out.Merit.ResonanceHz, meta.Merit.ResonanceHz)
	assert.Equal(t, out.Session.ID.String(), meta.SessionID)
	assert.True(t, meta.Matched())

	rec, err := st.LoadRecord(out.RunID)
	require.NoError(t, err)
	assert.Equal(t, out.Record.Frequencies, rec.Frequencies)
	assert.Equal(t, out.Record.S, rec.S)

	want, err := results.Digest(out.Record)
	require.NoError(t, err)
	got, err := results.Digest(rec)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, want, meta.RecordDigest)

	sweep, err := st.LoadSweep(out.RunID)
	require.NoError(t, err)
	assert.Len(t, sweep.Frequencies, out.Record.Len())

	seq, err := st.LoadGeometry(out.RunID)
	require.NoError(t, err)
	digest, err := geometry.Digest(seq)
	require.NoError(t, err)
	assert.Equal(t, out.GeometryDigest, digest)
}

func TestStoreFileStructure(t *testing.T) {
	st := newStore(t)
	out := runInto(t, st, 2.4e9)

	for _, name := range []string{MetadataFile, TouchFile, MetricsFile, BundleFile, GeometryFile} {
		path, err := st.Path(out.RunID, name)
		require.NoError(t, err)
		_, err = os.Stat(path)
		assert.NoError(t, err, name)
	}
	_, err := os.Stat(filepath.Join(st.Dir(), IndexFile))
	assert.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(st.Dir(), out.RunID, TouchFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Hz S RI R 50")
}

func TestStoreList(t *testing.T) {
	st := newStore(t)

	runs, err := st.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, runs)

	a := runInto(t, st, 2.4e9)
	b := runInto(t, st, 5.8e9)

	runs, err = st.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []string{runs[0].ID, runs[1].ID}
	assert.ElementsMatch(t, []string{a.RunID, b.RunID}, ids)

	runs, err = st.List(context.Background(), Filter{MinHz: 5e9})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, b.RunID, runs[0].ID)
	assert.InDelta(t, b.Merit.MinS11DB, runs[0].Merit.MinS11DB, 1e-9)

	runs, err = st.List(context.Background(), Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestStoreReindexAndDelete(t *testing.T) {
	st := newStore(t)
	a := runInto(t, st, 2.4e9)
	b := runInto(t, st, 2.45e9)

	require.NoError(t, st.Close())
	require.NoError(t, os.Remove(filepath.Join(st.Dir(), IndexFile)))

	n, err := st.Reindex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, st.Delete(context.Background(), a.RunID))
	runs, err := st.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, b.RunID, runs[0].ID)

	_, err = st.Load(a.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, st.Delete(context.Background(), a.RunID), ErrRunNotFound)
	assert.ErrorIs(t, st.Delete(context.Background(), "../etc"), ErrBadRunID)
}

func TestStoreRejectsBadRunIDs(t *testing.T) {
	st := newStore(t)
	for _, id := range []string{"", "..", "../etc", `a\b`} {
		_, err := st.Load(id)
		assert.ErrorIs(t, err, ErrBadRunID, id)
	}
	_, err := st.LoadRecord("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = st.Save(context.Background(), &orchestrator.Outcome{})
	assert.ErrorIs(t, err, results.ErrNoData)
}

func TestExport(t *testing.T) {
	st := newStore(t)
	out := runInto(t, st, 2.4e9)

	var buf bytes.Buffer
	require.NoError(t, st.Export(&buf, out.RunID, FormatTouchstone))
	net, err := results.ReadTouchstone(&buf, 1)
	require.NoError(t, err)
	assert.Len(t, net.Frequencies, out.Record.Len())

	buf.Reset()
	require.NoError(t, st.Export(&buf, out.RunID, FormatCSV))
	sweep, err := results.ReadCSV(&buf)
	require.NoError(t, err)
	assert.Len(t, sweep.Frequencies, out.Record.Len())

	buf.Reset()
	require.NoError(t, st.Export(&buf, out.RunID, FormatJSON))
	b, err := results.ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, out.RunID, b.RunID)

	path := filepath.Join(t.TempDir(), "out.s1p")
	f, err := FormatFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, FormatTouchstone, f)
	require.NoError(t, st.ExportFile(path, out.RunID, f))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "!"))

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestExportGeometry(t *testing.T) {
	st := newStore(t)
	out := runInto(t, st, 2.4e9)

	f, err := ParseFormat("geometry")
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, st.Export(&buf, out.RunID, f))
	seq, err := geometry.UnmarshalJSON(buf.Bytes())
	require.NoError(t, err)
	digest, err := geometry.Digest(seq)
	require.NoError(t, err)
	assert.Equal(t, out.GeometryDigest, digest)

	b, err := st.LoadBundle(out.RunID)
	require.NoError(t, err)
	assert.ErrorIs(t, ExportBundle(&buf, FormatGeometry, b), results.ErrNoData)

	_, err = st.LoadGeometry("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestExportUpgradesLegacyMetrics(t *testing.T) {
	st := newStore(t)
	out := runInto(t, st, 2.4e9)

	path, err := st.Path(out.RunID, MetricsFile)
	require.NoError(t, err)
	legacy := "frequency_hz,s11_re,s11_im,s11_db,vswr\n2.4e+09,0,0,-300,1\n2.5e+09,0.5,0,-6.02,3\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	var buf bytes.Buffer
	require.NoError(t, st.Export(&buf, out.RunID, FormatCSV))
	sweep, err := results.ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, sweep.Zin, 2)
	assert.InDelta(t, 50, sweep.Zin[0].Re, 1e-9)
	assert.InDelta(t, 150, sweep.Zin[1].Re, 1e-9)
	assert.InDelta(t, 0, sweep.Zin[1].Im, 1e-9)
}

func TestStoreExportFileUnknownRun(t *testing.T) {
	st := newStore(t)
	path := filepath.Join(t.TempDir(), "out.csv")
	assert.ErrorIs(t, st.ExportFile(path, "missing", FormatCSV), ErrRunNotFound)
}

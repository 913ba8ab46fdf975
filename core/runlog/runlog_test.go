package runlog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetalloc/core/model"
)

func sampleRecords() []Record {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []Record{
		{Timestamp: base, RunID: "a", Kind: KindSolve, Params: map[string]any{"fleet": 3528}},
		{Timestamp: base.Add(time.Hour), RunID: "b", Kind: KindSweep, Summary: map[string]any{"points": 25}},
		{Timestamp: base.Add(2 * time.Hour), RunID: "c", Kind: KindMarginal, Err: "baseline failed"},
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	for _, r := range sampleRecords() {
		require.NoError(t, store.Append(ctx, r))
	}
	all, err := store.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].RunID)
	assert.EqualValues(t, 3528, all[0].Params["fleet"])

	sweeps, err := store.Query(ctx, Query{Kind: KindSweep})
	require.NoError(t, err)
	require.Len(t, sweeps, 1)
	assert.Equal(t, "b", sweeps[0].RunID)

	base := sampleRecords()[0].Timestamp
	window, err := store.Query(ctx, Query{Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, KindSweep, window[0].Kind)

	byID, err := store.Query(ctx, Query{RunID: "c"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "baseline failed", byID[0].Err)
}

func TestJSONLStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "runs.jsonl")
	store, err := NewJSONLStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	exerciseStore(t, store)
}

func TestJSONLStore_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	store, err := NewJSONLStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), Record{RunID: "ok", Kind: KindSolve}))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, _ = f.WriteString("{not json\n")
	require.NoError(t, f.Close())

	out, err := store.Query(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].RunID)
}

func TestRotatingJSONLStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 3, 1)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	exerciseStore(t, store)
}

func TestRotatingJSONLStore_QueriesBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 5, 1)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	pad := strings.Repeat("x", 200*1024)
	for i := 0; i < 8; i++ {
		require.NoError(t, store.Append(context.Background(), Record{RunID: "r", Kind: KindSweep, Err: pad}))
	}
	backups, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "runs-*.jsonl"))
	assert.NotEmpty(t, backups, "expected rotated files")

	out, err := store.Query(context.Background(), Query{Kind: KindSweep})
	require.NoError(t, err)
	assert.Len(t, out, 8)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	exerciseStore(t, store)
}

func TestRecord_JSON(t *testing.T) {
	data, err := json.Marshal(sampleRecords()[1])
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	for _, k := range []string{"timestamp", "run_id", "kind", "summary"} {
		assert.Contains(t, m, k)
	}
	assert.NotContains(t, m, "error")
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Config{})
	require.NoError(t, err)
	assert.IsType(t, NopStore{}, s)

	s, err = Open(Config{Backend: "JSONL", Path: filepath.Join(dir, "a.jsonl")})
	require.NoError(t, err)
	assert.IsType(t, &JSONLStore{}, s)

	s, err = Open(Config{Backend: "jsonl", Path: filepath.Join(dir, "b.jsonl"), MaxSizeMB: 5})
	require.NoError(t, err)
	assert.IsType(t, &RotatingJSONLStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(Config{Backend: "sqlite", Path: filepath.Join(dir, "c.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(Config{Backend: "postgres"})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = Open(Config{Backend: "jsonl", MaxBackups: -1})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{Backend: "sqlite"}
	c.SetDefaults()
	assert.Equal(t, "runs.db", c.Path)
	c = Config{Backend: "jsonl"}
	c.SetDefaults()
	assert.Equal(t, "runs.jsonl", c.Path)
}

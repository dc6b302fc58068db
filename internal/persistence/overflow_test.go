package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamcore/roundtable/pkg/chunk"
)

func readDirPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

func TestOverflow_AppendAndReadBack(t *testing.T) {
	dir := t.TempDir()
	ov, err := NewOverflow(dir)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := chunk.PersistedChunk{ThreadID: "t1", MessageID: "m1", Seq: 0, Kind: chunk.KindText, WrittenAt: now}
	payload, err := encodePersistedChunk(c)
	require.NoError(t, err)
	require.NoError(t, ov.Append(payload, now))
	require.NoError(t, ov.Close())

	paths, err := readDirPaths(dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Contains(t, paths[0], "2026-03-01.log")

	recovered, corrupt, err := ReadFile(paths[0])
	require.NoError(t, err)
	require.Equal(t, 0, corrupt)
	require.Len(t, recovered, 1)
	require.Equal(t, "t1", recovered[0].ThreadID)
}

func TestOverflow_RotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	ov, err := NewOverflow(dir)
	require.NoError(t, err)
	defer ov.Close()

	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC)

	require.NoError(t, ov.Append([]byte("a"), day1))
	require.NoError(t, ov.Append([]byte("b"), day2))

	paths, err := readDirPaths(dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)
}

func TestOverflow_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "2026-03-01.log")

	good := chunk.PersistedChunk{ThreadID: "t", MessageID: "m", Seq: 0, Kind: chunk.KindText}
	payload, err := encodePersistedChunk(good)
	require.NoError(t, err)

	ov, err := NewOverflow(dir)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ov.Append(payload, now))
	require.NoError(t, ov.Close())

	// Corrupt one byte of the payload in place.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	recovered, corrupt, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, corrupt)
	require.Empty(t, recovered)
}

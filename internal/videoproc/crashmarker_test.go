package videoproc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMarkerStoreReadAbsentReturnsFalse(t *testing.T) {
	m := NewMarkerStore(filepath.Join(t.TempDir(), ".encoding_state.json"))
	_, ok, err := m.Read()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMarkerStoreWriteThenRead(t *testing.T) {
	m := NewMarkerStore(filepath.Join(t.TempDir(), ".encoding_state.json"))
	marker := CrashMarker{
		InputPath:  "/scratch/a.mkv",
		OutputPath: "/scratch/a.out.mkv",
		StartedAt:  time.Now().Truncate(time.Second),
	}
	require.NoError(t, m.Write(marker))

	got, ok, err := m.Read()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, marker.InputPath, got.InputPath)
	require.Equal(t, marker.OutputPath, got.OutputPath)
	require.True(t, marker.StartedAt.Equal(got.StartedAt))
}

func TestMarkerStoreClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".encoding_state.json")
	m := NewMarkerStore(path)
	require.NoError(t, m.Write(CrashMarker{InputPath: "/a"}))

	require.NoError(t, m.Clear())

	_, ok, err := m.Read()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMarkerStoreClearAbsentIsNoop(t *testing.T) {
	m := NewMarkerStore(filepath.Join(t.TempDir(), ".encoding_state.json"))
	require.NoError(t, m.Clear())
}

func TestMarkerStoreWriteOverwritesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".encoding_state.json")
	m := NewMarkerStore(path)
	require.NoError(t, m.Write(CrashMarker{InputPath: "/first"}))
	require.NoError(t, m.Write(CrashMarker{InputPath: "/second"}))

	got, ok, err := m.Read()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/second", got.InputPath)
}

package runlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "run/netplan/generate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep/nested/generate.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "generate.db")
	for i := 0; i < 2; i++ {
		store, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, store.Close())
	}
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)

	older := Run{
		ID:          NewRunID(),
		StartedAt:   time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		SourceCount: 2,
		Definitions: 3,
		Routes:      1,
		Rules:       0,
		Managed:     true,
		Fingerprint: "aaaa",
	}
	newer := Run{
		ID:          NewRunID(),
		StartedAt:   time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC),
		SourceCount: 2,
		Definitions: 3,
		Routes:      1,
		Rules:       0,
		Managed:     false,
		Fingerprint: "bbbb",
	}
	require.NoError(t, store.Record(older))
	require.NoError(t, store.Record(newer))

	runs, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, newer.ID, runs[0].ID, "newest first")
	assert.Equal(t, older.ID, runs[1].ID)
	assert.True(t, runs[1].Managed)
	assert.False(t, runs[0].Managed)
	assert.Equal(t, "aaaa", runs[1].Fingerprint)
	assert.Equal(t, older.StartedAt, runs[1].StartedAt)
}

func TestRecentRespectsLimit(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(Run{
			ID:          NewRunID(),
			StartedAt:   base.Add(time.Duration(i) * time.Hour),
			Fingerprint: "x",
		}))
	}

	runs, err := store.Recent(3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestRecordDuplicateIDFails(t *testing.T) {
	store := openTestStore(t)
	run := Run{ID: NewRunID(), StartedAt: time.Now(), Fingerprint: "x"}
	require.NoError(t, store.Record(run))
	assert.Error(t, store.Record(run))
}

func TestNewRunIDsSortByTime(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, a, b, "UUIDv7 is time-ordered")
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orpheus-engine/conductor/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "conductor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}

func TestRecordAndLastByService(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	recs := []store.Record{
		{Service: "backend", State: "pending", At: base},
		{Service: "backend", State: "starting", At: base.Add(time.Second)},
		{Service: "backend", State: "running", Port: 8001, PID: 4242, At: base.Add(2 * time.Second)},
		{Service: "frontend", State: "failed", LastError: "spawn failed", At: base.Add(3 * time.Second)},
	}
	for _, r := range recs {
		require.NoError(t, db.RecordTransition(ctx, r))
	}

	last, err := db.LastByService(ctx, "backend")
	require.NoError(t, err)
	require.Equal(t, "running", last.State)
	require.Equal(t, 8001, last.Port)
	require.Equal(t, 4242, last.PID)
	require.Empty(t, last.LastError)

	last, err = db.LastByService(ctx, "frontend")
	require.NoError(t, err)
	require.Equal(t, "failed", last.State)
	require.Equal(t, "spawn failed", last.LastError)
}

func TestLastByServiceUnknown(t *testing.T) {
	db := openTestDB(t)
	_, err := db.LastByService(context.Background(), "ghost")
	require.Error(t, err)
}

func TestRecentNewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i, state := range []string{"pending", "starting", "running"} {
		require.NoError(t, db.RecordTransition(ctx, store.Record{
			Service: "backend", State: state, At: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	recent, err := db.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "running", recent[0].State)
	require.Equal(t, "starting", recent[1].State)

	// Non-positive limit falls back to a default rather than erroring.
	recent, err = db.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
}

func TestPurgeOlderThan(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.RecordTransition(ctx, store.Record{Service: "backend", State: "stopped", At: old}))
	require.NoError(t, db.RecordTransition(ctx, store.Record{Service: "backend", State: "running", At: time.Now()}))

	n, err := db.PurgeOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	recent, err := db.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "running", recent[0].State)
}

func TestRecordTransitionFillsTimestamp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.RecordTransition(ctx, store.Record{Service: "backend", State: "pending"}))

	last, err := db.LastByService(ctx, "backend")
	require.NoError(t, err)
	require.False(t, last.At.IsZero())
}

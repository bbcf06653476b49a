package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/placemap/internal/db"
	"github.com/vbonduro/placemap/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, d.Close()) })
	return d
}

func TestJournalStoreRecordAndGet(t *testing.T) {
	s := NewJournalStore(openTestDB(t))
	ctx := context.Background()

	e := &domain.JournalEntry{ID: "a1", Op: "create", PlaceID: -1, PlaceName: "Mirador", Outcome: domain.OutcomeDegraded, Error: "offline"}
	require.NoError(t, s.Record(ctx, e))
	assert.False(t, e.CreatedAt.IsZero())

	got, err := s.GetByID(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "create", got.Op)
	assert.Equal(t, int64(-1), got.PlaceID)
	assert.Equal(t, "Mirador", got.PlaceName)
	assert.Equal(t, domain.OutcomeDegraded, got.Outcome)
	assert.Equal(t, "offline", got.Error)
	assert.WithinDuration(t, e.CreatedAt, got.CreatedAt, 1e9)
}

func TestJournalStoreGetMissing(t *testing.T) {
	s := NewJournalStore(openTestDB(t))
	got, err := s.GetByID(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestJournalStoreDuplicateID(t *testing.T) {
	s := NewJournalStore(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, &domain.JournalEntry{ID: "dup", Op: "delete", PlaceID: 2, Outcome: domain.OutcomeConfirmed}))
	assert.Error(t, s.Record(ctx, &domain.JournalEntry{ID: "dup", Op: "delete", PlaceID: 2, Outcome: domain.OutcomeConfirmed}))
}

func TestJournalStoreList(t *testing.T) {
	s := NewJournalStore(openTestDB(t))
	ctx := context.Background()

	for i, outcome := range []string{domain.OutcomeConfirmed, domain.OutcomeDegraded, domain.OutcomeDegraded} {
		require.NoError(t, s.Record(ctx, &domain.JournalEntry{
			ID:      string(rune('a' + i)),
			Op:      "update",
			PlaceID: int64(i),
			Outcome: outcome,
		}))
	}

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")

	degraded, err := s.List(ctx, domain.OutcomeDegraded, 10)
	require.NoError(t, err)
	assert.Len(t, degraded, 2)

	limited, err := s.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

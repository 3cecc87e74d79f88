package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// These tests need a real postgres. Set TEST_DATABASE_URL to run them:
//
//	TEST_DATABASE_URL=postgres://localhost/leaderboard_test go test ./internal/store
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	st, err := Open(dsn, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, st.db.Exec("TRUNCATE players, slots RESTART IDENTITY CASCADE").Error)
	return st
}

func submission(email string, score, timetaken int) Player {
	return Player{
		Name:        "Player " + email,
		Email:       email,
		Score:       score,
		TimeTaken:   timetaken,
		DisplayTime: "0:30",
		Location:    "HQ",
	}
}

func TestSingleActiveSlotInvariant(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	first, err := st.StartSlot(ctx, "Morning")
	require.NoError(t, err)
	require.Equal(t, StatusActive, first.Status)

	_, err = st.StartSlot(ctx, "Afternoon")
	require.ErrorIs(t, err, ErrSlotConflict)

	stopped, err := st.StopSlot(ctx, SlotRef{ID: first.ID})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stopped.Status)
	require.NotNil(t, stopped.EndTime)

	// Closed means a new session can open again.
	_, err = st.StartSlot(ctx, "Afternoon")
	require.NoError(t, err)
}

func TestStopSlotErrors(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	_, err := st.StopSlot(ctx, SlotRef{ID: 12345})
	require.ErrorIs(t, err, ErrSlotNotFound)

	slot, err := st.StartSlot(ctx, "Morning")
	require.NoError(t, err)
	_, err = st.StopSlot(ctx, SlotRef{Name: "Morning"})
	require.NoError(t, err)

	_, err = st.StopSlot(ctx, SlotRef{ID: slot.ID})
	require.ErrorIs(t, err, ErrSlotNotActive)
}

func TestUpsertScoreBestWins(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	_, err := st.StartSlot(ctx, "Morning")
	require.NoError(t, err)

	accepted, slot, err := st.UpsertScore(ctx, submission("a@x.com", 50, 30))
	require.NoError(t, err)
	require.True(t, accepted)

	// Identical resubmission leaves stored state unchanged.
	accepted, _, err = st.UpsertScore(ctx, submission("a@x.com", 50, 30))
	require.NoError(t, err)
	require.False(t, accepted)

	// Strictly worse never mutates.
	accepted, _, err = st.UpsertScore(ctx, submission("a@x.com", 40, 5))
	require.NoError(t, err)
	require.False(t, accepted)
	accepted, _, err = st.UpsertScore(ctx, submission("a@x.com", 50, 31))
	require.NoError(t, err)
	require.False(t, accepted)

	// Better score replaces in place, no duplicate row.
	accepted, _, err = st.UpsertScore(ctx, submission("a@x.com", 60, 40))
	require.NoError(t, err)
	require.True(t, accepted)

	players, err := st.PlayersForSlot(ctx, slot.ID, "HQ")
	require.NoError(t, err)
	require.Len(t, players, 1)
	require.Equal(t, 60, players[0].Score)
	require.Equal(t, 40, players[0].TimeTaken)
}

func TestUpsertScoreRequiresActiveSlot(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	_, _, err := st.UpsertScore(ctx, submission("a@x.com", 50, 30))
	require.ErrorIs(t, err, ErrNoActiveSlot)

	slot, err := st.StartSlot(ctx, "Morning")
	require.NoError(t, err)
	_, err = st.StopSlot(ctx, SlotRef{ID: slot.ID})
	require.NoError(t, err)

	_, _, err = st.UpsertScore(ctx, submission("a@x.com", 50, 30))
	require.ErrorIs(t, err, ErrNoActiveSlot)

	players, err := st.PlayersForSlot(ctx, slot.ID, "")
	require.NoError(t, err)
	require.Empty(t, players)
}

func TestBestScoresAcrossSlots(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	slot1, err := st.StartSlot(ctx, "Morning")
	require.NoError(t, err)
	_, _, err = st.UpsertScore(ctx, submission("a@x.com", 80, 10))
	require.NoError(t, err)
	_, _, err = st.UpsertScore(ctx, submission("b@x.com", 40, 10))
	require.NoError(t, err)
	_, err = st.StopSlot(ctx, SlotRef{ID: slot1.ID})
	require.NoError(t, err)

	_, err = st.StartSlot(ctx, "Afternoon")
	require.NoError(t, err)
	_, _, err = st.UpsertScore(ctx, submission("a@x.com", 20, 10))
	require.NoError(t, err)
	_, _, err = st.UpsertScore(ctx, submission("b@x.com", 90, 10))
	require.NoError(t, err)

	best, err := st.BestScores(ctx, "HQ")
	require.NoError(t, err)
	require.Len(t, best, 2)
	require.Equal(t, "b@x.com", best[0].Email)
	require.Equal(t, 90, best[0].Score)
	require.Equal(t, "a@x.com", best[1].Email)
	require.Equal(t, 80, best[1].Score)
}

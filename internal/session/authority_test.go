package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"leaderboard/internal/store"
	"leaderboard/internal/types"
)

// fakeStore keeps slots and players in memory while honoring the same
// contracts the postgres store does.
type fakeStore struct {
	slots   []store.Slot
	players map[int64][]store.Player
	nextID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{players: make(map[int64][]store.Player)}
}

func (f *fakeStore) StartSlot(_ context.Context, name string) (*store.Slot, error) {
	for _, s := range f.slots {
		if s.Status == store.StatusActive {
			return nil, store.ErrSlotConflict
		}
	}
	f.nextID++
	slot := store.Slot{ID: f.nextID, Name: name, Status: store.StatusActive, StartTime: time.Now().UTC()}
	f.slots = append(f.slots, slot)
	return &slot, nil
}

func (f *fakeStore) StopSlot(_ context.Context, ref store.SlotRef) (*store.Slot, error) {
	for i := range f.slots {
		s := &f.slots[i]
		if (ref.ID != 0 && s.ID == ref.ID) || (ref.ID == 0 && s.Name == ref.Name) {
			if s.Status != store.StatusActive {
				return nil, store.ErrSlotNotActive
			}
			now := time.Now().UTC()
			s.Status = store.StatusCompleted
			s.EndTime = &now
			out := *s
			return &out, nil
		}
	}
	return nil, store.ErrSlotNotFound
}

func (f *fakeStore) ActiveSlot(context.Context) (*store.Slot, error) {
	for i := range f.slots {
		if f.slots[i].Status == store.StatusActive {
			out := f.slots[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) LastCompletedSlot(context.Context) (*store.Slot, error) {
	for i := len(f.slots) - 1; i >= 0; i-- {
		if f.slots[i].Status == store.StatusCompleted {
			out := f.slots[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) AllSlots(context.Context) ([]store.Slot, error) {
	return append([]store.Slot(nil), f.slots...), nil
}

func (f *fakeStore) PlayersForSlot(_ context.Context, slotID int64, location string) ([]store.Player, error) {
	var out []store.Player
	for _, p := range f.players[slotID] {
		if location == "" || p.Location == location {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) BestScores(_ context.Context, location string) ([]store.Player, error) {
	best := make(map[string]store.Player)
	for _, players := range f.players {
		for _, p := range players {
			if location != "" && p.Location != location {
				continue
			}
			if cur, ok := best[p.Email]; !ok || p.Score > cur.Score {
				best[p.Email] = p
			}
		}
	}
	var out []store.Player
	for _, p := range best {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) PlayerInSlot(_ context.Context, email string, slotID int64) (*store.Player, error) {
	for _, p := range f.players[slotID] {
		if p.Email == email {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) addPlayer(slotID int64, email string, score, timetaken int) {
	f.players[slotID] = append(f.players[slotID], store.Player{
		Name: email, Email: email, Score: score, TimeTaken: timetaken,
		DisplayTime: "0:30", Location: "HQ", SlotID: slotID,
	})
}

type capturingPublisher struct {
	statuses []types.GameStatus
}

func (c *capturingPublisher) PublishStatus(status types.GameStatus) {
	c.statuses = append(c.statuses, status)
}

func newTestAuthority() (*Authority, *fakeStore, *capturingPublisher) {
	fs := newFakeStore()
	pub := &capturingPublisher{}
	a := NewAuthority(fs, zap.NewNop())
	a.SetPublisher(pub)
	return a, fs, pub
}

func TestStartSlotPublishesActiveStatus(t *testing.T) {
	a, _, pub := newTestAuthority()
	ctx := context.Background()

	slot, err := a.StartSlot(ctx, "Morning")
	require.NoError(t, err)
	require.Equal(t, store.StatusActive, slot.Status)

	require.Len(t, pub.statuses, 1)
	status := pub.statuses[0]
	require.True(t, status.Active)
	require.Equal(t, "Morning", status.SlotName)
	require.Equal(t, slot.ID, status.ActiveSlotID)
	require.True(t, status.HasSlots)
	require.Len(t, status.Slots, 1)
}

func TestStartSlotConflictsWhileActive(t *testing.T) {
	a, fs, _ := newTestAuthority()
	ctx := context.Background()

	_, err := a.StartSlot(ctx, "Morning")
	require.NoError(t, err)

	_, err = a.StartSlot(ctx, "Afternoon")
	require.ErrorIs(t, err, store.ErrSlotConflict)

	active := 0
	for _, s := range fs.slots {
		if s.Status == store.StatusActive {
			active++
		}
	}
	require.Equal(t, 1, active)
}

func TestStopSlotComputesWinners(t *testing.T) {
	a, fs, pub := newTestAuthority()
	ctx := context.Background()

	slot, err := a.StartSlot(ctx, "Morning")
	require.NoError(t, err)
	fs.addPlayer(slot.ID, "first@x.com", 100, 10)
	fs.addPlayer(slot.ID, "tied@x.com", 100, 20)
	fs.addPlayer(slot.ID, "third@x.com", 70, 5)
	fs.addPlayer(slot.ID, "fourth@x.com", 60, 5)
	fs.addPlayer(slot.ID, "fifth@x.com", 10, 1)

	stopped, winners, err := a.StopSlot(ctx, store.SlotRef{ID: slot.ID})
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, stopped.Status)
	require.NotNil(t, stopped.EndTime)

	require.Len(t, winners, 3)
	require.Equal(t, "first@x.com", winners[0].Email)
	require.Equal(t, "tied@x.com", winners[1].Email)
	require.Equal(t, "third@x.com", winners[2].Email)

	status := pub.statuses[len(pub.statuses)-1]
	require.False(t, status.Active)
	require.NotNil(t, status.LastSlotInfo)
	require.Equal(t, "Morning", status.LastSlotInfo.Name)
	require.Len(t, status.Winners, 3)
}

func TestStopSlotByName(t *testing.T) {
	a, _, _ := newTestAuthority()
	ctx := context.Background()

	_, err := a.StartSlot(ctx, "Morning")
	require.NoError(t, err)

	stopped, _, err := a.StopSlot(ctx, store.SlotRef{Name: "Morning"})
	require.NoError(t, err)
	require.Equal(t, "Morning", stopped.Name)
}

func TestStopSlotErrors(t *testing.T) {
	a, _, _ := newTestAuthority()
	ctx := context.Background()

	_, _, err := a.StopSlot(ctx, store.SlotRef{ID: 99})
	require.ErrorIs(t, err, store.ErrSlotNotFound)

	slot, err := a.StartSlot(ctx, "Morning")
	require.NoError(t, err)
	_, _, err = a.StopSlot(ctx, store.SlotRef{ID: slot.ID})
	require.NoError(t, err)

	_, _, err = a.StopSlot(ctx, store.SlotRef{ID: slot.ID})
	require.ErrorIs(t, err, store.ErrSlotNotActive)
}

func TestStatusTriState(t *testing.T) {
	a, _, _ := newTestAuthority()
	ctx := context.Background()

	// No sessions yet.
	status, err := a.Status(ctx)
	require.NoError(t, err)
	require.False(t, status.Active)
	require.False(t, status.HasSlots)
	require.Equal(t, "Waiting for game session to start...", status.Message)

	// Active.
	slot, err := a.StartSlot(ctx, "Morning")
	require.NoError(t, err)
	status, err = a.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.Active)
	require.Equal(t, slot.ID, status.ActiveSlotID)

	// Closed.
	_, _, err = a.StopSlot(ctx, store.SlotRef{ID: slot.ID})
	require.NoError(t, err)
	status, err = a.Status(ctx)
	require.NoError(t, err)
	require.False(t, status.Active)
	require.True(t, status.HasSlots)
	require.NotNil(t, status.LastSlotInfo)
	require.Equal(t, "Morning", status.LastSlotInfo.Name)
}

func TestRankingsUseActiveSlot(t *testing.T) {
	a, fs, _ := newTestAuthority()
	ctx := context.Background()

	slot, err := a.StartSlot(ctx, "Morning")
	require.NoError(t, err)
	fs.addPlayer(slot.ID, "a@x.com", 50, 30)

	ranked, slotID, err := a.Rankings(ctx, "HQ")
	require.NoError(t, err)
	require.Equal(t, slot.ID, slotID)
	require.Len(t, ranked, 1)
	require.Equal(t, "a@x.com", ranked[0].Email)
	require.Equal(t, 1, ranked[0].Rank)
}

func TestRankingsFallBackToBestScores(t *testing.T) {
	a, fs, _ := newTestAuthority()
	ctx := context.Background()

	slot, err := a.StartSlot(ctx, "Morning")
	require.NoError(t, err)
	fs.addPlayer(slot.ID, "a@x.com", 50, 30)
	_, _, err = a.StopSlot(ctx, store.SlotRef{ID: slot.ID})
	require.NoError(t, err)

	ranked, slotID, err := a.Rankings(ctx, "HQ")
	require.NoError(t, err)
	require.Zero(t, slotID)
	require.Len(t, ranked, 1)
}

func TestCheckEmail(t *testing.T) {
	a, fs, _ := newTestAuthority()
	ctx := context.Background()

	res, err := a.CheckEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.False(t, res.HasPlayed)

	slot, err := a.StartSlot(ctx, "Morning")
	require.NoError(t, err)
	fs.addPlayer(slot.ID, "a@x.com", 50, 30)

	res, err = a.CheckEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.True(t, res.HasPlayed)
	require.NotNil(t, res.Player)

	res, err = a.CheckEmail(ctx, "new@x.com")
	require.NoError(t, err)
	require.False(t, res.HasPlayed)
	require.NotNil(t, res.ActiveSlot)
}

package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"leaderboard/internal/ranking"
	"leaderboard/internal/store"
	"leaderboard/internal/types"
)

// Store is the slice of the session store the authority needs.
type Store interface {
	StartSlot(ctx context.Context, name string) (*store.Slot, error)
	StopSlot(ctx context.Context, ref store.SlotRef) (*store.Slot, error)
	ActiveSlot(ctx context.Context) (*store.Slot, error)
	LastCompletedSlot(ctx context.Context) (*store.Slot, error)
	AllSlots(ctx context.Context) ([]store.Slot, error)
	PlayersForSlot(ctx context.Context, slotID int64, location string) ([]store.Player, error)
	BestScores(ctx context.Context, location string) ([]store.Player, error)
	PlayerInSlot(ctx context.Context, email string, slotID int64) (*store.Player, error)
}

// Publisher receives the session-status broadcast emitted on every slot
// transition. Status pushes are never suppressed.
type Publisher interface {
	PublishStatus(status types.GameStatus)
}

// Authority owns the slot lifecycle. The single-active-slot invariant is
// enforced by the store's transactions, never by in-process state.
type Authority struct {
	store Store
	pub   Publisher
	log   *zap.Logger
}

func NewAuthority(st Store, log *zap.Logger) *Authority {
	return &Authority{store: st, log: log}
}

// SetPublisher wires the broadcaster in after construction; the hub also
// reads snapshots from the authority, so the two reference each other.
func (a *Authority) SetPublisher(p Publisher) { a.pub = p }

// StartSlot opens a new game session and announces it to every subscriber.
// Fails with store.ErrSlotConflict while another slot is active.
func (a *Authority) StartSlot(ctx context.Context, name string) (*store.Slot, error) {
	slot, err := a.store.StartSlot(ctx, name)
	if err != nil {
		return nil, err
	}

	slots, err := a.store.AllSlots(ctx)
	if err != nil {
		return nil, err
	}
	a.publish(types.GameStatus{
		Active:       true,
		SlotName:     slot.Name,
		Message:      fmt.Sprintf("Game Session %q has started!", slot.Name),
		Slots:        types.NewSlotInfos(slots),
		ActiveSlotID: slot.ID,
		HasSlots:     true,
	})
	return slot, nil
}

// StopSlot closes the referenced session, computes its top-3 winners and
// announces the closure with timing metadata.
func (a *Authority) StopSlot(ctx context.Context, ref store.SlotRef) (*store.Slot, []ranking.RankedEntry, error) {
	slot, err := a.store.StopSlot(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	players, err := a.store.PlayersForSlot(ctx, slot.ID, "")
	if err != nil {
		return nil, nil, err
	}
	winners := ranking.Top(ranking.Rank(players), 3)

	slots, err := a.store.AllSlots(ctx)
	if err != nil {
		return nil, nil, err
	}
	last := types.NewSlotInfo(*slot)
	a.publish(types.GameStatus{
		Active:   false,
		SlotName: slot.Name,
		Message: fmt.Sprintf("Game session %q is now completed.\nStarted: %s\nEnded: %s\nDuration: %s",
			slot.Name, last.StartTime, last.EndTime, last.Duration),
		Slots:        types.NewSlotInfos(slots),
		HasSlots:     len(slots) > 0,
		LastSlotInfo: &last,
		Winners:      winners,
	})
	return slot, winners, nil
}

func (a *Authority) publish(status types.GameStatus) {
	if a.pub != nil {
		a.pub.PublishStatus(status)
	}
}

func (a *Authority) ActiveSlot(ctx context.Context) (*store.Slot, error) {
	return a.store.ActiveSlot(ctx)
}

func (a *Authority) LastCompletedSlot(ctx context.Context) (*store.Slot, error) {
	return a.store.LastCompletedSlot(ctx)
}

// Slots lists every slot, newest first, with derived durations.
func (a *Authority) Slots(ctx context.Context) ([]types.SlotInfo, error) {
	slots, err := a.store.AllSlots(ctx)
	if err != nil {
		return nil, err
	}
	return types.NewSlotInfos(slots), nil
}

// Rankings returns the current standings for a location: the active slot's
// entries while a session is open, otherwise each player's best score
// across all slots. The returned slot id is zero for the best-score view.
func (a *Authority) Rankings(ctx context.Context, location string) ([]ranking.RankedEntry, int64, error) {
	active, err := a.store.ActiveSlot(ctx)
	if err != nil {
		return nil, 0, err
	}
	if active != nil {
		players, err := a.store.PlayersForSlot(ctx, active.ID, location)
		if err != nil {
			return nil, 0, err
		}
		return ranking.Rank(players), active.ID, nil
	}
	players, err := a.store.BestScores(ctx, location)
	if err != nil {
		return nil, 0, err
	}
	return ranking.Rank(players), 0, nil
}

// BestRankings returns the all-time best-score-per-player view, regardless
// of whether a session is open.
func (a *Authority) BestRankings(ctx context.Context, location string) ([]ranking.RankedEntry, error) {
	players, err := a.store.BestScores(ctx, location)
	if err != nil {
		return nil, err
	}
	return ranking.Rank(players), nil
}

// SlotRankings returns the standings of one specific slot.
func (a *Authority) SlotRankings(ctx context.Context, slotID int64, location string) ([]ranking.RankedEntry, error) {
	players, err := a.store.PlayersForSlot(ctx, slotID, location)
	if err != nil {
		return nil, err
	}
	return ranking.Rank(players), nil
}

// CheckResult reports whether an email has already played in the active slot.
type CheckResult struct {
	HasPlayed  bool            `json:"hasPlayed"`
	ActiveSlot *types.SlotInfo `json:"activeSlot,omitempty"`
	Player     *store.Player   `json:"playerData,omitempty"`
	Message    string          `json:"message"`
}

func (a *Authority) CheckEmail(ctx context.Context, email string) (CheckResult, error) {
	active, err := a.store.ActiveSlot(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	if active == nil {
		return CheckResult{Message: "No active slot found"}, nil
	}
	info := types.NewSlotInfo(*active)
	player, err := a.store.PlayerInSlot(ctx, email, active.ID)
	if err != nil {
		return CheckResult{}, err
	}
	res := CheckResult{HasPlayed: player != nil, ActiveSlot: &info, Player: player}
	if player != nil {
		res.Message = fmt.Sprintf("Email %s has already played in slot %q", email, active.Name)
	} else {
		res.Message = fmt.Sprintf("Email %s has not played in slot %q yet", email, active.Name)
	}
	return res, nil
}

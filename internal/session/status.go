package session

import (
	"context"
	"fmt"

	"leaderboard/internal/types"
)

// StateKind makes the "no slots yet" / "slot active" / "slot closed"
// tri-state explicit instead of scattering nil checks.
type StateKind int

const (
	NoSessionsYet StateKind = iota
	SessionActive
	SessionClosed
)

// Status resolves the current session state from the store and shapes it
// as a gameStatus payload. Used by new subscribers on connect and by the
// rankings read path.
func (a *Authority) Status(ctx context.Context) (types.GameStatus, error) {
	slots, err := a.store.AllSlots(ctx)
	if err != nil {
		return types.GameStatus{}, err
	}
	active, err := a.store.ActiveSlot(ctx)
	if err != nil {
		return types.GameStatus{}, err
	}

	kind := NoSessionsYet
	switch {
	case active != nil:
		kind = SessionActive
	case len(slots) > 0:
		kind = SessionClosed
	}

	status := types.GameStatus{
		Slots:    types.NewSlotInfos(slots),
		HasSlots: len(slots) > 0,
	}
	switch kind {
	case NoSessionsYet:
		status.Message = "Waiting for game session to start..."

	case SessionActive:
		status.Active = true
		status.SlotName = active.Name
		status.ActiveSlotID = active.ID
		status.Message = fmt.Sprintf("Game Session %q is active!", active.Name)

	case SessionClosed:
		status.Message = "Game session has ended"
		last, err := a.store.LastCompletedSlot(ctx)
		if err != nil {
			return types.GameStatus{}, err
		}
		if last != nil {
			info := types.NewSlotInfo(*last)
			status.SlotName = last.Name
			status.LastSlotInfo = &info
		}
	}
	return status, nil
}

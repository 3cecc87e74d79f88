package types

import (
	"leaderboard/internal/ranking"
	"leaderboard/internal/store"
)

// Client -> Server
type ClientMessage struct {
	Type     string `json:"type"` // "setLocation" | "getRankings"
	Location string `json:"location,omitempty"`
	SlotID   int64  `json:"slotId,omitempty"`
}

// Server -> Client events

type RankingsEvent struct {
	Type     string                `json:"type"` // "rankings"
	Location string                `json:"location"`
	Players  []ranking.RankedEntry `json:"players"`
	SlotID   int64                 `json:"slotId,omitempty"`
}

type GameStatusEvent struct {
	Type   string     `json:"type"` // "gameStatus"
	Status GameStatus `json:"status"`
}

type PlayerUpdateEvent struct {
	Type     string               `json:"type"` // "playerUpdate"
	Location string               `json:"location"`
	Player   *ranking.RankedEntry `json:"player,omitempty"`
}

// GameStatus describes the session state pushed to every viewer on
// start/stop and on connect.
type GameStatus struct {
	Active       bool                  `json:"active"`
	SlotName     string                `json:"slotName,omitempty"`
	Message      string                `json:"message"`
	Slots        []SlotInfo            `json:"slots"`
	ActiveSlotID int64                 `json:"activeSlotId,omitempty"`
	HasSlots     bool                  `json:"hasSlots"`
	LastSlotInfo *SlotInfo             `json:"lastSlotInfo,omitempty"`
	Winners      []ranking.RankedEntry `json:"winners,omitempty"`
}

// SlotInfo is the wire shape of a slot, with its derived duration.
type SlotInfo struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time,omitempty"`
	Duration  string `json:"duration"`
}

const timeLayout = "2006-01-02 15:04:05"

func NewSlotInfo(s store.Slot) SlotInfo {
	info := SlotInfo{
		ID:        s.ID,
		Name:      s.Name,
		Status:    s.Status,
		StartTime: s.StartTime.UTC().Format(timeLayout),
		Duration:  s.Duration(),
	}
	if s.EndTime != nil {
		info.EndTime = s.EndTime.UTC().Format(timeLayout)
	}
	return info
}

func NewSlotInfos(slots []store.Slot) []SlotInfo {
	infos := make([]SlotInfo, len(slots))
	for i, s := range slots {
		infos[i] = NewSlotInfo(s)
	}
	return infos
}

package store

import (
	"fmt"
	"time"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Slot is one bounded game session. At most one slot is active at a time;
// that invariant is enforced transactionally in StartSlot/StopSlot.
type Slot struct {
	ID        int64      `gorm:"primaryKey" json:"id"`
	Name      string     `gorm:"not null" json:"name"`
	Status    string     `gorm:"not null;index" json:"status"`
	StartTime time.Time  `gorm:"not null" json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	CreatedAt time.Time  `json:"created_at"`
}

func (Slot) TableName() string { return "slots" }

// Duration formats elapsed time as MM:SS, or HH:MM:SS once it reaches an
// hour. Active slots are measured against the current time.
func (s Slot) Duration() string {
	end := time.Now().UTC()
	if s.EndTime != nil {
		end = *s.EndTime
	}
	d := end.Sub(s.StartTime)
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h >= 1 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

// Player is one player's best result within a slot. The unique index on
// (email, slot_id) backs the one-entry-per-player-per-slot rule.
type Player struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Email       string    `gorm:"not null;uniqueIndex:uq_players_email_slot" json:"email"`
	Score       int       `gorm:"not null" json:"score"`
	TimeTaken   int       `gorm:"column:timetaken;not null" json:"timetaken"`
	DisplayTime string    `gorm:"column:displaytime;not null" json:"displaytime"`
	Date        time.Time `gorm:"not null" json:"date"`
	Location    string    `gorm:"not null;index" json:"location"`
	SlotID      int64     `gorm:"not null;uniqueIndex:uq_players_email_slot" json:"slot_id"`
}

func (Player) TableName() string { return "players" }

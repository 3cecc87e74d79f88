package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrSlotConflict = errors.New("another slot is already active")
var ErrSlotNotFound = errors.New("slot not found")
var ErrSlotNotActive = errors.New("slot is not active")
var ErrNoActiveSlot = errors.New("no active game session")

// StorageError wraps a persistence failure so callers can tell it apart
// from the domain errors above.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// SlotRef addresses a slot by id or, when ID is zero, by name.
type SlotRef struct {
	ID   int64
	Name string
}

// slotLifecycleLockKey serializes start/stop transitions so two concurrent
// starts cannot both observe "no active slot".
const slotLifecycleLockKey int64 = 0x5107

// Store is the single source of truth for slots and score entries.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, storageErr("open", err)
	}
	if err := db.AutoMigrate(&Slot{}, &Player{}); err != nil {
		return nil, storageErr("migrate", err)
	}
	return &Store{db: db, log: log}, nil
}

// NewWithDB exists for tests that bring their own gorm connection.
func NewWithDB(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

// StartSlot creates a new active slot. The active-slot existence check and
// the insert run in one transaction under an advisory lock.
func (s *Store) StartSlot(ctx context.Context, name string) (*Slot, error) {
	slot := Slot{Name: name, Status: StatusActive, StartTime: time.Now().UTC()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", slotLifecycleLockKey).Error; err != nil {
			return storageErr("lock slots", err)
		}
		var active int64
		if err := tx.Model(&Slot{}).Where("status = ?", StatusActive).Count(&active).Error; err != nil {
			return storageErr("count active slots", err)
		}
		if active > 0 {
			return ErrSlotConflict
		}
		if err := tx.Create(&slot).Error; err != nil {
			return storageErr("create slot", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("slot started", zap.Int64("slot_id", slot.ID), zap.String("name", name))
	return &slot, nil
}

// StopSlot completes the referenced slot and stamps its end time.
func (s *Store) StopSlot(ctx context.Context, ref SlotRef) (*Slot, error) {
	var slot Slot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", slotLifecycleLockKey).Error; err != nil {
			return storageErr("lock slots", err)
		}
		q := tx.Order("start_time DESC")
		if ref.ID != 0 {
			q = q.Where("id = ?", ref.ID)
		} else {
			q = q.Where("name = ?", ref.Name)
		}
		if err := q.First(&slot).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSlotNotFound
			}
			return storageErr("find slot", err)
		}
		if slot.Status != StatusActive {
			return ErrSlotNotActive
		}
		now := time.Now().UTC()
		if err := tx.Model(&slot).Updates(map[string]any{
			"status":   StatusCompleted,
			"end_time": now,
		}).Error; err != nil {
			return storageErr("complete slot", err)
		}
		slot.Status = StatusCompleted
		slot.EndTime = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("slot stopped", zap.Int64("slot_id", slot.ID), zap.String("name", slot.Name))
	return &slot, nil
}

// ActiveSlot returns the currently active slot, or nil when none is open.
func (s *Store) ActiveSlot(ctx context.Context) (*Slot, error) {
	var slot Slot
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusActive).
		Order("start_time DESC").
		First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("active slot", err)
	}
	return &slot, nil
}

// LastCompletedSlot returns the most recently closed slot, or nil.
func (s *Store) LastCompletedSlot(ctx context.Context) (*Slot, error) {
	var slot Slot
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusCompleted).
		Order("end_time DESC").
		First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("last completed slot", err)
	}
	return &slot, nil
}

func (s *Store) AllSlots(ctx context.Context) ([]Slot, error) {
	var slots []Slot
	if err := s.db.WithContext(ctx).Order("start_time DESC").Find(&slots).Error; err != nil {
		return nil, storageErr("all slots", err)
	}
	return slots, nil
}

// UpsertScore records a submission against the active slot with
// best-score-wins semantics. The active-slot lookup, the compare and the
// write all run inside one transaction; an advisory lock on (email, slot)
// serializes concurrent submissions for the same player.
//
// Returns whether the write was accepted and the slot it was recorded
// against. A worse score is a valid no-op, not an error.
func (s *Store) UpsertScore(ctx context.Context, sub Player) (bool, *Slot, error) {
	var accepted bool
	var active Slot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("status = ?", StatusActive).Order("start_time DESC").First(&active).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoActiveSlot
		}
		if err != nil {
			return storageErr("active slot", err)
		}
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", scoreLockKey(sub.Email, active.ID)).Error; err != nil {
			return storageErr("lock score row", err)
		}

		var existing Player
		err = tx.Where("email = ? AND slot_id = ?", sub.Email, active.ID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sub.SlotID = active.ID
			sub.Date = time.Now().UTC()
			if err := tx.Create(&sub).Error; err != nil {
				return storageErr("insert score", err)
			}
			accepted = true
			return nil
		}
		if err != nil {
			return storageErr("find score", err)
		}
		if !beatsExisting(sub.Score, sub.TimeTaken, existing.Score, existing.TimeTaken) {
			return nil
		}
		if err := tx.Model(&existing).Updates(map[string]any{
			"name":        sub.Name,
			"score":       sub.Score,
			"timetaken":   sub.TimeTaken,
			"displaytime": sub.DisplayTime,
			"date":        time.Now().UTC(),
		}).Error; err != nil {
			return storageErr("update score", err)
		}
		accepted = true
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return accepted, &active, nil
}

// beatsExisting is the best-score-wins rule: higher score wins, equal score
// falls back to lower time taken.
func beatsExisting(newScore, newTime, oldScore, oldTime int) bool {
	if newScore != oldScore {
		return newScore > oldScore
	}
	return newTime < oldTime
}

func scoreLockKey(email string, slotID int64) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", email, slotID)
	return int64(h.Sum64())
}

// PlayersForSlot lists a slot's entries, optionally narrowed to a location.
func (s *Store) PlayersForSlot(ctx context.Context, slotID int64, location string) ([]Player, error) {
	q := s.db.WithContext(ctx).Where("slot_id = ?", slotID)
	if location != "" {
		q = q.Where("location = ?", location)
	}
	var players []Player
	if err := q.Order("score DESC, timetaken ASC").Find(&players).Error; err != nil {
		return nil, storageErr("players for slot", err)
	}
	return players, nil
}

// BestScores returns each player's best entry across all slots, optionally
// narrowed to a location. Used when no slot is active.
func (s *Store) BestScores(ctx context.Context, location string) ([]Player, error) {
	query := `
		SELECT p1.* FROM players p1
		INNER JOIN (
			SELECT email, MAX(score) AS max_score
			FROM players %s
			GROUP BY email
		) p2 ON p1.email = p2.email AND p1.score = p2.max_score
		%s
		ORDER BY p1.score DESC, p1.timetaken ASC`

	var players []Player
	var err error
	if location != "" {
		q := fmt.Sprintf(query, "WHERE location = ?", "WHERE p1.location = ?")
		err = s.db.WithContext(ctx).Raw(q, location, location).Scan(&players).Error
	} else {
		q := fmt.Sprintf(query, "", "")
		err = s.db.WithContext(ctx).Raw(q).Scan(&players).Error
	}
	if err != nil {
		return nil, storageErr("best scores", err)
	}
	return players, nil
}

// PlayerInSlot looks up one player's entry in a slot, nil when absent.
func (s *Store) PlayerInSlot(ctx context.Context, email string, slotID int64) (*Player, error) {
	var player Player
	err := s.db.WithContext(ctx).
		Where("email = ? AND slot_id = ?", email, slotID).
		First(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("player in slot", err)
	}
	return &player, nil
}

package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"leaderboard/internal/store"
)

// ValidationError names the submission field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid submission: %s %s", e.Field, e.Reason)
}

// Store is the write side of the session store the ingester needs. The
// active-slot check and best-score-wins compare happen inside the store's
// transaction, so a slot closing mid-request cannot be raced.
type Store interface {
	UpsertScore(ctx context.Context, sub store.Player) (bool, *store.Slot, error)
}

// Publisher carries the two downstream notifications of an accepted write:
// a lightweight player-update notice and a (possibly suppressed) rankings
// recompute for the submission's location.
type Publisher interface {
	PublishPlayerUpdate(location string)
	PublishRankings(location string)
}

// Submission is the inbound score payload.
type Submission struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Score       int    `json:"score"`
	TimeTaken   int    `json:"timetaken"`
	DisplayTime string `json:"displaytime"`
	Location    string `json:"location"`
}

// Result reports what a submission did to stored state.
type Result struct {
	Accepted bool
	Message  string
	Slot     *store.Slot
}

type Service struct {
	store Store
	pub   Publisher
	log   *zap.Logger
}

func NewService(st Store, pub Publisher, log *zap.Logger) *Service {
	return &Service{store: st, pub: pub, log: log}
}

// Submit validates and records one player's result. A worse score than the
// stored one is accepted as a no-op; only an actual insert or update
// triggers broadcasts.
func (s *Service) Submit(ctx context.Context, sub Submission) (Result, error) {
	if err := validate(sub); err != nil {
		return Result{}, err
	}

	accepted, slot, err := s.store.UpsertScore(ctx, store.Player{
		Name:        sub.Name,
		Email:       sub.Email,
		Score:       sub.Score,
		TimeTaken:   sub.TimeTaken,
		DisplayTime: sub.DisplayTime,
		Location:    sub.Location,
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Accepted: accepted, Slot: slot, Message: "Score recorded"}
	if !accepted {
		res.Message = "Existing score is better"
	}

	if accepted {
		s.log.Info("score accepted",
			zap.String("email", sub.Email),
			zap.String("location", sub.Location),
			zap.Int("score", sub.Score),
			zap.Int64("slot_id", slot.ID))
		s.pub.PublishPlayerUpdate(sub.Location)
		s.pub.PublishRankings(sub.Location)
	}
	return res, nil
}

func validate(sub Submission) error {
	switch {
	case sub.Name == "":
		return &ValidationError{Field: "name", Reason: "is required"}
	case sub.Email == "":
		return &ValidationError{Field: "email", Reason: "is required"}
	case sub.Score < 0:
		return &ValidationError{Field: "score", Reason: "must be >= 0"}
	case sub.TimeTaken < 0:
		return &ValidationError{Field: "timetaken", Reason: "must be >= 0"}
	case sub.DisplayTime == "":
		return &ValidationError{Field: "displaytime", Reason: "is required"}
	case sub.Location == "":
		return &ValidationError{Field: "location", Reason: "is required"}
	}
	return nil
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"leaderboard/internal/ingest"
	"leaderboard/internal/session"
	"leaderboard/internal/store"
)

type API struct {
	authority *session.Authority
	ingester  *ingest.Service
	log       *zap.Logger
}

func NewAPI(authority *session.Authority, ingester *ingest.Service, log *zap.Logger) *API {
	return &API{authority: authority, ingester: ingester, log: log}
}

// SubmitScore handles POST /api/player.
func (a *API) SubmitScore(w http.ResponseWriter, r *http.Request) {
	var sub ingest.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid request body"))
		return
	}

	res, err := a.ingester.Submit(r.Context(), sub)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": res.Message,
		"updated": res.Accepted,
	})
}

// Rankings handles GET /api/rankings/{location}.
func (a *API) Rankings(w http.ResponseWriter, r *http.Request) {
	location := chi.URLParam(r, "location")
	players, slotID, err := a.authority.Rankings(r.Context(), location)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"location": location,
		"rankings": players,
		"slotId":   slotID,
	})
}

// Slots handles GET /api/slots.
func (a *API) Slots(w http.ResponseWriter, r *http.Request) {
	slots, err := a.authority.Slots(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "slots": slots})
}

// StartSlot handles POST /api/slots/start.
func (a *API) StartSlot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SlotName string `json:"slotName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SlotName == "" {
		writeJSON(w, http.StatusBadRequest, errBody("Slot name is required"))
		return
	}

	slot, err := a.authority.StartSlot(r.Context(), body.SlotName)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": slot})
}

// StopSlot handles POST /api/slots/{slot}/stop. The path segment is a
// numeric slot id, or a slot name when it does not parse as one.
func (a *API) StopSlot(w http.ResponseWriter, r *http.Request) {
	ref := store.SlotRef{Name: chi.URLParam(r, "slot")}
	if id, err := strconv.ParseInt(ref.Name, 10, 64); err == nil {
		ref = store.SlotRef{ID: id}
	}

	slot, winners, err := a.authority.StopSlot(r.Context(), ref)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"data":    slot,
		"winners": winners,
	})
}

// SlotPlayers handles GET /api/slots/{slotID}/players.
func (a *API) SlotPlayers(w http.ResponseWriter, r *http.Request) {
	slotID, err := strconv.ParseInt(chi.URLParam(r, "slotID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody("invalid slot id"))
		return
	}
	players, err := a.authority.SlotRankings(r.Context(), slotID, "")
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"slotId":  slotID,
		"players": players,
	})
}

// TopPlayers handles GET /api/players/top: best-ever score per player
// across every slot.
func (a *API) TopPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := a.authority.BestRankings(r.Context(), "")
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "players": players})
}

// CheckEmail handles GET /api/players/check/{email}.
func (a *API) CheckEmail(w http.ResponseWriter, r *http.Request) {
	res, err := a.authority.CheckEmail(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// writeError maps the domain error taxonomy onto status codes.
func (a *API) writeError(w http.ResponseWriter, err error) {
	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errBody(verr.Error()))
	case errors.Is(err, store.ErrNoActiveSlot):
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
	case errors.Is(err, store.ErrSlotConflict):
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
	case errors.Is(err, store.ErrSlotNotActive):
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
	case errors.Is(err, store.ErrSlotNotFound):
		writeJSON(w, http.StatusNotFound, errBody(err.Error()))
	default:
		a.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errBody("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func errBody(msg string) map[string]any {
	return map[string]any{"status": "error", "message": msg}
}

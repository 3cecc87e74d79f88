package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"leaderboard/internal/broadcast"
	"leaderboard/internal/ingest"
	"leaderboard/internal/session"
	"leaderboard/internal/ws"
)

func SetupRoutes(authority *session.Authority, ingester *ingest.Service, hub *broadcast.Hub, log *zap.Logger) http.Handler {
	api := NewAPI(authority, ingester, log)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/player", api.SubmitScore)
		r.Get("/rankings/{location}", api.Rankings)
		r.Get("/slots", api.Slots)
		r.Post("/slots/start", api.StartSlot)
		r.Post("/slots/{slot}/stop", api.StopSlot)
		r.Get("/slots/{slotID}/players", api.SlotPlayers)
		r.Get("/players/top", api.TopPlayers)
		r.Get("/players/check/{email}", api.CheckEmail)
	})
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(hub, log))
	return r
}

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"leaderboard/internal/broadcast"
	"leaderboard/internal/types"
)

const writeTimeout = 3 * time.Second

// Handler upgrades the connection and bridges it to the hub. The client
// drives everything by messages: setLocation subscribes it to a location
// (and gets an immediate full-state push), getRankings asks for a refresh.
func Handler(h *broadcast.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // viewers connect from kiosk origins
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		out := make(chan []byte, 16)
		subscribed := false

		defer h.Unsubscribe(clientID)

		// The writer ends when the hub closes the outbox on unsubscribe,
		// or via writeCancel if the hub dropped this client as too slow
		// (in which case the channel is left open for a re-subscribe).
		writeCtx, writeCancel := context.WithCancel(context.Background())
		defer writeCancel()
		go func() {
			for {
				select {
				case payload, ok := <-out:
					if !ok {
						return
					}
					ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
					_ = conn.Write(ctx, websocket.MessageText, payload)
					cancel()
				case <-writeCtx.Done():
					return
				}
			}
		}()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Unsubscribe in the defer covers every error path.
				return
			}

			var msg types.ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Warn("bad client message", zap.String("client_id", clientID), zap.Error(err))
				continue
			}

			switch msg.Type {
			case "setLocation":
				if msg.Location == "" {
					continue
				}
				h.Subscribe(clientID, msg.Location, out)
				subscribed = true

			case "getRankings":
				if !subscribed {
					continue
				}
				h.RequestRankings(clientID, msg.Location, msg.SlotID)

			default:
				log.Warn("unknown client message type",
					zap.String("client_id", clientID),
					zap.String("type", msg.Type))
			}
		}
	}
}

package broadcast

import (
	"context"
	"encoding/json"
	"slices"

	"go.uber.org/zap"

	"leaderboard/internal/ranking"
	"leaderboard/internal/types"
)

// Source produces the snapshots the hub pushes to subscribers. The hub
// never caches "is there an active slot"; every push reads through the
// source to the store.
type Source interface {
	Status(ctx context.Context) (types.GameStatus, error)
	Rankings(ctx context.Context, location string) ([]ranking.RankedEntry, int64, error)
	SlotRankings(ctx context.Context, slotID int64, location string) ([]ranking.RankedEntry, error)
}

// topK is how many leading entries are compared for change suppression.
const topK = 10

type hubMsg interface{ isHubMsg() }

type subscribe struct {
	clientID string
	location string
	outbox   chan []byte
}

type unsubscribe struct{ clientID string }

type publishRankings struct{ location string }

type publishStatus struct{ status types.GameStatus }

type publishPlayerUpdate struct{ location string }

type requestRankings struct {
	clientID string
	location string
	slotID   int64
}

type getView struct{ reply chan View }

type shutdownHub struct{}

func (subscribe) isHubMsg()           {}
func (unsubscribe) isHubMsg()         {}
func (publishRankings) isHubMsg()     {}
func (publishStatus) isHubMsg()       {}
func (publishPlayerUpdate) isHubMsg() {}
func (requestRankings) isHubMsg()     {}
func (getView) isHubMsg()             {}
func (shutdownHub) isHubMsg()         {}

type subscriber struct {
	location string
	outbox   chan []byte
}

// cacheKey holds the rank-relevant fields of one top-K entry. Structural
// equality over these is the whole change-detection scheme.
type cacheKey struct {
	Email     string
	Score     int
	TimeTaken int
}

// View is a test-only reflection of hub internals.
type View struct {
	NumClients      int
	Locations       map[string]string
	CachedLocations int
}

// Hub is the subscription registry and broadcaster. All state is owned by
// the single loop goroutine; the exported methods just post messages to it.
type Hub struct {
	inbox  chan hubMsg
	src    Source
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	clients map[string]*subscriber
	cache   map[string][]cacheKey
}

func NewHub(parent context.Context, src Source, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan hubMsg, 64),
		src:     src,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[string]*subscriber),
		cache:   make(map[string][]cacheKey),
	}
	go h.loop()
	return h
}

// Subscribe records the connection's location (last write wins) and
// immediately pushes current rankings plus session status to it alone.
func (h *Hub) Subscribe(clientID, location string, outbox chan []byte) {
	h.post(subscribe{clientID: clientID, location: location, outbox: outbox})
}

// Unsubscribe drops the connection and closes its outbox. Safe to call for
// a client that never subscribed or was already dropped.
func (h *Hub) Unsubscribe(clientID string) {
	h.post(unsubscribe{clientID: clientID})
}

// PublishRankings recomputes rankings for a location and fans them out to
// its subscribers, unless the top-K is unchanged since the last send.
func (h *Hub) PublishRankings(location string) {
	h.post(publishRankings{location: location})
}

// PublishStatus sends a session-status event to every connection,
// regardless of location or cache state.
func (h *Hub) PublishStatus(status types.GameStatus) {
	h.post(publishStatus{status: status})
}

// PublishPlayerUpdate sends the lightweight player-changed notice.
func (h *Hub) PublishPlayerUpdate(location string) {
	h.post(publishPlayerUpdate{location: location})
}

// RequestRankings pushes a fresh, unsuppressed rankings snapshot to one
// client, optionally scoped to a specific slot.
func (h *Hub) RequestRankings(clientID, location string, slotID int64) {
	h.post(requestRankings{clientID: clientID, location: location, slotID: slotID})
}

// Shutdown closes every outbox and stops the loop.
func (h *Hub) Shutdown() {
	h.post(shutdownHub{})
}

// post delivers a message to the loop, or drops it once the hub has
// stopped, so callers never block on a dead inbox.
func (h *Hub) post(m hubMsg) {
	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
	}
}

// ViewState reflects internal state without data races; test support.
func (h *Hub) ViewState() View {
	reply := make(chan View, 1)
	h.post(getView{reply: reply})
	select {
	case v := <-reply:
		return v
	case <-h.ctx.Done():
		return View{}
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.dropAll()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case subscribe:
				h.handleSubscribe(msg)
			case unsubscribe:
				h.drop(msg.clientID)
			case publishRankings:
				h.broadcastRankings(msg.location)
			case publishStatus:
				h.broadcastStatus(msg.status)
			case publishPlayerUpdate:
				h.broadcastPlayerUpdate(msg.location)
			case requestRankings:
				h.handleRequest(msg)
			case getView:
				locs := make(map[string]string, len(h.clients))
				for id, sub := range h.clients {
					locs[id] = sub.location
				}
				msg.reply <- View{
					NumClients:      len(h.clients),
					Locations:       locs,
					CachedLocations: len(h.cache),
				}
			case shutdownHub:
				h.dropAll()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) handleSubscribe(msg subscribe) {
	if old, ok := h.clients[msg.clientID]; ok && old.outbox != msg.outbox {
		close(old.outbox)
	}
	sub := &subscriber{location: msg.location, outbox: msg.outbox}
	h.clients[msg.clientID] = sub
	h.log.Info("client subscribed",
		zap.String("client_id", msg.clientID),
		zap.String("location", msg.location),
		zap.Int("clients", len(h.clients)))

	// New viewers must never be left blank waiting for the next change.
	h.sendRankingsTo(msg.clientID, sub, msg.location, 0)
	if _, ok := h.clients[msg.clientID]; !ok {
		// The rankings push already dropped this client.
		return
	}
	status, err := h.src.Status(h.ctx)
	if err != nil {
		h.log.Error("status snapshot failed", zap.Error(err))
		return
	}
	h.send(msg.clientID, sub, marshal(types.GameStatusEvent{Type: "gameStatus", Status: status}))
}

func (h *Hub) handleRequest(msg requestRankings) {
	sub, ok := h.clients[msg.clientID]
	if !ok {
		return
	}
	location := msg.location
	if location == "" {
		location = sub.location
	}
	h.sendRankingsTo(msg.clientID, sub, location, msg.slotID)
}

// sendRankingsTo pushes a snapshot to a single client, bypassing the
// suppression cache. slotID zero means "current view for the location".
func (h *Hub) sendRankingsTo(clientID string, sub *subscriber, location string, slotID int64) {
	var players []ranking.RankedEntry
	var err error
	if slotID != 0 {
		players, err = h.src.SlotRankings(h.ctx, slotID, location)
	} else {
		players, slotID, err = h.src.Rankings(h.ctx, location)
	}
	if err != nil {
		h.log.Error("rankings snapshot failed", zap.String("location", location), zap.Error(err))
		return
	}
	h.send(clientID, sub, marshal(types.RankingsEvent{
		Type:     "rankings",
		Location: location,
		Players:  players,
		SlotID:   slotID,
	}))
}

func (h *Hub) broadcastRankings(location string) {
	players, slotID, err := h.src.Rankings(h.ctx, location)
	if err != nil {
		h.log.Error("rankings recompute failed", zap.String("location", location), zap.Error(err))
		return
	}

	keys := make([]cacheKey, 0, topK)
	for _, p := range ranking.Top(players, topK) {
		keys = append(keys, cacheKey{Email: p.Email, Score: p.Score, TimeTaken: p.TimeTaken})
	}
	if prev, ok := h.cache[location]; ok && slices.Equal(prev, keys) {
		h.log.Debug("rankings unchanged, push suppressed", zap.String("location", location))
		return
	}
	h.cache[location] = keys

	payload := marshal(types.RankingsEvent{
		Type:     "rankings",
		Location: location,
		Players:  players,
		SlotID:   slotID,
	})
	for id, sub := range h.clients {
		if sub.location == location {
			h.send(id, sub, payload)
		}
	}
}

func (h *Hub) broadcastStatus(status types.GameStatus) {
	payload := marshal(types.GameStatusEvent{Type: "gameStatus", Status: status})
	for id, sub := range h.clients {
		h.send(id, sub, payload)
	}

	// A session transition changes what "current rankings" means, so the
	// suppression memo is stale. Drop it and refresh every location.
	h.cache = make(map[string][]cacheKey)
	for _, loc := range h.subscribedLocations() {
		h.broadcastRankings(loc)
	}
}

func (h *Hub) broadcastPlayerUpdate(location string) {
	payload := marshal(types.PlayerUpdateEvent{Type: "playerUpdate", Location: location})
	for id, sub := range h.clients {
		h.send(id, sub, payload)
	}
}

func (h *Hub) subscribedLocations() []string {
	seen := make(map[string]bool)
	var locs []string
	for _, sub := range h.clients {
		if !seen[sub.location] {
			seen[sub.location] = true
			locs = append(locs, sub.location)
		}
	}
	return locs
}

func (h *Hub) send(id string, sub *subscriber, payload []byte) {
	if payload == nil {
		return
	}
	select {
	case sub.outbox <- payload:
	default:
		// Slow or dead client; deregister it rather than stall the loop.
		// The channel stays open: the connection handler still owns it
		// and may legitimately re-subscribe, and a send on a closed
		// channel would panic the loop.
		h.log.Warn("dropping slow client", zap.String("client_id", id))
		delete(h.clients, id)
	}
}

// drop handles explicit unsubscribe and shutdown, where no further send
// can target the channel, so closing it is safe and ends the connection's
// writer goroutine.
func (h *Hub) drop(id string) {
	if sub, ok := h.clients[id]; ok {
		close(sub.outbox)
		delete(h.clients, id)
	}
}

func (h *Hub) dropAll() {
	for id := range h.clients {
		h.drop(id)
	}
}

func marshal(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return payload
}

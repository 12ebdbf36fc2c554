// Package hub owns the live connection registry and the fan-out of
// table events. One goroutine reads each connection, one pump writes
// it; the hub lock serializes mutations with their broadcasts so
// updates to a single card reach every subscriber in mutation order.
// The lock is never held across a websocket write or any other
// suspension point.
package hub

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dreamtable/server/internal/artifact"
	"dreamtable/server/internal/genjob"
	"dreamtable/server/internal/proto"
	"dreamtable/server/internal/table"
)

// Hub ties the connection registry to the table store, the artifact
// cache, and the generation job manager.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	store       *table.Store
	cache       *artifact.Cache
	jobs        *genjob.Manager
	logger      *zap.Logger
}

func New(store *table.Store, cache *artifact.Cache, jobs *genjob.Manager, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]*subscriber),
		store:       store,
		cache:       cache,
		jobs:        jobs,
		logger:      logger,
	}
}

// Join registers a connection and sends it the full table snapshot,
// followed by any cached card art on a secondary goroutine so image
// payloads never delay the snapshot. Returns the connection id.
func (h *Hub) Join(conn Conn) string {
	id := uuid.NewString()
	sub := newSubscriber(id, conn)

	h.mu.Lock()
	h.subscribers[id] = sub
	cards := h.store.Snapshot()
	init := proto.InitMessage{Type: proto.TypeInit, Cards: cardStates(cards)}
	if data, err := json.Marshal(init); err == nil {
		sub.enqueue(data)
	} else {
		h.logger.Error("failed to marshal init snapshot", zap.Error(err))
	}
	h.mu.Unlock()

	go sub.writePump(func() { h.Disconnect(id) })
	go h.streamCachedArt(sub, cards)

	h.logger.Info("connection joined", zap.String("client", id), zap.Int("cards", len(cards)))
	return id
}

// Disconnect releases the connection's held cards, cancels its
// in-flight generation jobs, and removes it from the registry. It is
// idempotent, and a broadcast racing it simply skips the closed
// subscriber. Released cards are announced as drop updates so
// spectators see them land.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
		for _, card := range h.store.ReleaseHeldBy(id) {
			msg := proto.UpdateMessage{Type: proto.TypeUpdate, CardID: card.ID, X: card.X, Y: card.Y}
			if data, err := json.Marshal(msg); err == nil {
				h.enqueueAllLocked(data, id)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		sub.close()
		h.logger.Info("connection closed", zap.String("client", id))
	}
}

// Diagnostics is the hub's health snapshot for the diagnostics
// endpoint.
type Diagnostics struct {
	Connections  int   `json:"connections"`
	Cards        int   `json:"cards"`
	JobsInFlight int64 `json:"jobsInFlight"`
}

func (h *Hub) DiagnosticsSnapshot() Diagnostics {
	h.mu.Lock()
	connections := len(h.subscribers)
	h.mu.Unlock()

	return Diagnostics{
		Connections:  connections,
		Cards:        h.store.Len(),
		JobsInFlight: h.jobs.InFlight(),
	}
}

// enqueueAllLocked fans one serialized frame out to every open
// subscriber except exclude. Best effort: a closed or backed-up
// subscriber is skipped and never aborts delivery to the rest.
func (h *Hub) enqueueAllLocked(data []byte, exclude string) {
	for id, sub := range h.subscribers {
		if id == exclude {
			continue
		}
		if !sub.enqueue(data) {
			h.logger.Debug("skipping unreachable subscriber", zap.String("client", id))
		}
	}
}

// streamCachedArt sends the cached artifact for each visible card to a
// newly joined subscriber.
func (h *Hub) streamCachedArt(sub *subscriber, cards []table.Card) {
	for _, card := range cards {
		if !card.Visible {
			continue
		}
		data, ok := h.cache.Get(card.ID)
		if !ok {
			continue
		}
		h.sendTo(sub, proto.CardImageMessage{
			Type:   proto.TypeCardImage,
			CardID: card.ID,
			Image:  base64.StdEncoding.EncodeToString(data),
		})
	}
}

// sendTo marshals a message for a single subscriber.
func (h *Hub) sendTo(sub *subscriber, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.String("client", sub.id), zap.Error(err))
		return
	}
	if !sub.enqueue(data) {
		h.logger.Debug("skipping unreachable subscriber", zap.String("client", sub.id))
	}
}

func (h *Hub) subscriberByID(id string) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribers[id]
}

func cardStates(cards []table.Card) []proto.CardState {
	states := make([]proto.CardState, 0, len(cards))
	for _, card := range cards {
		states = append(states, proto.CardState{
			CardID:  card.ID,
			X:       card.X,
			Y:       card.Y,
			Visible: card.Visible,
		})
	}
	return states
}

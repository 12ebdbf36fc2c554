package hub

import (
	"encoding/base64"
	"encoding/json"

	"go.uber.org/zap"

	"dreamtable/server/internal/genjob"
	"dreamtable/server/internal/proto"
)

// Dispatch decodes one inbound frame and routes it to exactly one
// handler. A malformed frame or unknown action is logged and dropped
// with no reply; nothing that arrives here may terminate the caller's
// read loop.
func (h *Hub) Dispatch(clientID string, payload []byte) {
	var cmd proto.ClientCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		h.logger.Info("discarding malformed message", zap.String("client", clientID), zap.Error(err))
		return
	}

	switch cmd.Action {
	case proto.ActionCreateCard:
		h.handleCreateCard(clientID, cmd)
	case proto.ActionPickup:
		h.handlePickup(clientID, cmd)
	case proto.ActionMove:
		h.handleMove(clientID, cmd)
	case proto.ActionDrop:
		h.handleDrop(clientID, cmd)
	case proto.ActionPlaceFromHand:
		h.handlePlaceFromHand(clientID, cmd)
	case proto.ActionDraw:
		h.handleGenerate(clientID, cmd, genjob.KindDraw)
	case proto.ActionGenerateImage:
		h.handleGenerate(clientID, cmd, genjob.KindImage)
	case proto.ActionGetCardImage:
		h.handleGetCardImage(clientID, cmd)
	default:
		h.logger.Info("unknown action", zap.String("action", cmd.Action), zap.String("client", clientID))
	}
}

// coord defaults an absent numeric field to zero for creation ops.
// Move-like ops pass the pointers through so the store keeps the
// existing position instead.
func coord(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// handleCreateCard inserts a fresh card and announces it to everyone,
// the creator included: the broadcast is how the creator learns the
// assigned id.
func (h *Hub) handleCreateCard(clientID string, cmd proto.ClientCommand) {
	h.mu.Lock()
	card := h.store.Create(coord(cmd.X), coord(cmd.Y))
	msg := proto.NewCardMessage{Type: proto.TypeNewCard, CardID: card.ID, X: card.X, Y: card.Y}
	if data, err := json.Marshal(msg); err == nil {
		h.enqueueAllLocked(data, "")
	}
	h.mu.Unlock()
}

// handlePickup grants or silently refuses the hold. The holder is not
// part of the public snapshot, so there is nothing to broadcast.
func (h *Hub) handlePickup(clientID string, cmd proto.ClientCommand) {
	if cmd.CardID == "" {
		return
	}
	if !h.store.Pickup(cmd.CardID, clientID) {
		h.logger.Debug("pickup refused", zap.String("card", cmd.CardID), zap.String("client", clientID))
	}
}

func (h *Hub) handleMove(clientID string, cmd proto.ClientCommand) {
	if cmd.CardID == "" {
		return
	}
	h.mu.Lock()
	card, ok := h.store.Move(cmd.CardID, clientID, cmd.X, cmd.Y)
	if ok {
		msg := proto.UpdateMessage{
			Type:   proto.TypeUpdate,
			CardID: card.ID,
			X:      card.X,
			Y:      card.Y,
			Held:   card.Holder != "",
		}
		if data, err := json.Marshal(msg); err == nil {
			h.enqueueAllLocked(data, clientID)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) handleDrop(clientID string, cmd proto.ClientCommand) {
	if cmd.CardID == "" {
		return
	}
	h.mu.Lock()
	card, ok := h.store.Drop(cmd.CardID, clientID, cmd.X, cmd.Y)
	if ok {
		msg := proto.UpdateMessage{Type: proto.TypeUpdate, CardID: card.ID, X: card.X, Y: card.Y}
		if data, err := json.Marshal(msg); err == nil {
			h.enqueueAllLocked(data, clientID)
		}
	}
	h.mu.Unlock()
}

// handlePlaceFromHand moves a drawn card onto the shared table. The
// broadcast carries the card's cached art so spectators can render it
// without a follow-up fetch.
func (h *Hub) handlePlaceFromHand(clientID string, cmd proto.ClientCommand) {
	if cmd.CardID == "" {
		return
	}

	// Read the artifact before taking the hub lock; disk reads must
	// not stall broadcasts.
	var image string
	if data, ok := h.cache.Get(cmd.CardID); ok {
		image = base64.StdEncoding.EncodeToString(data)
	}

	h.mu.Lock()
	card := h.store.Place(cmd.CardID, coord(cmd.X), coord(cmd.Y))
	msg := proto.NewCardMessage{
		Type:   proto.TypeNewCard,
		CardID: card.ID,
		X:      card.X,
		Y:      card.Y,
		Image:  image,
	}
	if data, err := json.Marshal(msg); err == nil {
		h.enqueueAllLocked(data, clientID)
	}
	h.mu.Unlock()
}

// handleGenerate launches a generation job bound to the requester's
// connection lifetime. The result, success or failure, comes back as a
// single message to the requester alone.
func (h *Hub) handleGenerate(clientID string, cmd proto.ClientCommand, kind genjob.Kind) {
	if cmd.Prompt == "" {
		h.logger.Info("dropping generate request without prompt", zap.String("client", clientID))
		return
	}
	sub := h.subscriberByID(clientID)
	if sub == nil {
		return
	}

	h.jobs.Launch(sub.ctx, genjob.Request{Kind: kind, Prompt: cmd.Prompt}, func(out genjob.Outcome) {
		h.deliverOutcome(sub, kind, out)
	})
}

func (h *Hub) deliverOutcome(sub *subscriber, kind genjob.Kind, out genjob.Outcome) {
	if out.Failed() {
		h.sendTo(sub, proto.ErrorMessage{Type: proto.TypeError, Reason: out.Reason})
		return
	}

	if kind == genjob.KindImage {
		h.sendTo(sub, proto.ImageMessage{
			Type:  proto.TypeImage,
			Image: base64.StdEncoding.EncodeToString(out.Image),
		})
		return
	}

	cards := make([]proto.HandCard, 0, len(out.Cards))
	for _, card := range out.Cards {
		cards = append(cards, proto.HandCard{CardID: card.ID, X: card.X, Y: card.Y})
	}
	h.sendTo(sub, proto.DrawCardsMessage{Type: proto.TypeDrawCards, Cards: cards})
}

// handleGetCardImage replies with the cached artifact for a card.
// Absence is a normal case (the card has no generated art) and gets no
// reply.
func (h *Hub) handleGetCardImage(clientID string, cmd proto.ClientCommand) {
	if cmd.CardID == "" {
		return
	}
	sub := h.subscriberByID(clientID)
	if sub == nil {
		return
	}
	data, ok := h.cache.Get(cmd.CardID)
	if !ok {
		h.logger.Debug("no cached art", zap.String("card", cmd.CardID))
		return
	}
	h.sendTo(sub, proto.CardImageMessage{
		Type:   proto.TypeCardImage,
		CardID: cmd.CardID,
		Image:  base64.StdEncoding.EncodeToString(data),
	})
}

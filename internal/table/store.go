package table

import (
	"sync"

	"github.com/google/uuid"
)

// Card is a positioned, optionally-held entity on the shared table.
// Holder is the subscriber id of the connection currently granted
// exclusive drop rights, or empty when the card is unheld. It is a
// back-reference resolved through the connection registry, never a
// live handle.
type Card struct {
	ID      string
	X       float64
	Y       float64
	Holder  string
	Visible bool
}

// Store owns every card on the table. All operations are atomic with
// respect to concurrent callers.
type Store struct {
	mu    sync.Mutex
	cards map[string]*Card
}

func NewStore() *Store {
	return &Store{cards: make(map[string]*Card)}
}

// Create inserts a fresh unheld, visible card at the given position.
func (s *Store) Create(x, y float64) Card {
	card := &Card{ID: uuid.NewString(), X: x, Y: y, Visible: true}

	s.mu.Lock()
	s.cards[card.ID] = card
	s.mu.Unlock()

	return *card
}

// Pickup grants the requester exclusive hold of the card. It succeeds
// only when the card exists and is unheld or already held by the same
// requester; anything else is a no-op.
func (s *Store) Pickup(id, requester string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[id]
	if !ok {
		return false
	}
	if card.Holder != "" && card.Holder != requester {
		return false
	}
	card.Holder = requester
	return true
}

// Move updates the card's position. The holder is deliberately not
// checked: any participant may reposition a card, matching the drag
// protocol where only drop is ownership-gated. Nil coordinates keep
// the existing position.
func (s *Store) Move(id, requester string, x, y *float64) (Card, bool) {
	_ = requester

	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[id]
	if !ok {
		return Card{}, false
	}
	if x != nil {
		card.X = *x
	}
	if y != nil {
		card.Y = *y
	}
	return *card, true
}

// Drop releases the card. Only the current holder may drop; a drop by
// anyone else leaves both holder and position untouched. Nil
// coordinates keep the existing position.
func (s *Store) Drop(id, requester string, x, y *float64) (Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[id]
	if !ok {
		return Card{}, false
	}
	if card.Holder != requester {
		return Card{}, false
	}
	card.Holder = ""
	if x != nil {
		card.X = *x
	}
	if y != nil {
		card.Y = *y
	}
	return *card, true
}

// Place inserts a card with a client-supplied id, typically one drawn
// into a hand earlier. Re-placing the same id overwrites the previous
// entry.
func (s *Store) Place(id string, x, y float64) Card {
	card := &Card{ID: id, X: x, Y: y, Visible: true}

	s.mu.Lock()
	s.cards[id] = card
	s.mu.Unlock()

	return *card
}

// Get returns a copy of the card, if present.
func (s *Store) Get(id string) (Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, ok := s.cards[id]
	if !ok {
		return Card{}, false
	}
	return *card, true
}

// Snapshot copies every card, each exactly once. No ordering is
// guaranteed.
func (s *Store) Snapshot() []Card {
	s.mu.Lock()
	defer s.mu.Unlock()

	cards := make([]Card, 0, len(s.cards))
	for _, card := range s.cards {
		cards = append(cards, *card)
	}
	return cards
}

// ReleaseHeldBy clears the holder on every card held by the given
// requester and returns the released cards. Used when a connection
// goes away.
func (s *Store) ReleaseHeldBy(requester string) []Card {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []Card
	for _, card := range s.cards {
		if card.Holder == requester {
			card.Holder = ""
			released = append(released, *card)
		}
	}
	return released
}

// Len reports the number of cards on the table.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cards)
}

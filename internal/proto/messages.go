package proto

// Client action identifiers.
const (
	ActionCreateCard    = "createCard"
	ActionPickup        = "pickup"
	ActionMove          = "move"
	ActionDrop          = "drop"
	ActionDraw          = "draw"
	ActionPlaceFromHand = "placeCardFromHand"
	ActionGenerateImage = "generateImage"
	ActionGetCardImage  = "getCardImage"
)

// Type identifiers for outbound websocket payloads.
const (
	TypeInit      = "init"
	TypeNewCard   = "newCard"
	TypeUpdate    = "update"
	TypeDrawCards = "drawCards"
	TypeCardImage = "cardImage"
	TypeImage     = "image"
	TypeError     = "error"
)

// ClientCommand captures an inbound websocket message from the client.
// Coordinates are pointers so the router can tell an absent field apart
// from an explicit zero.
type ClientCommand struct {
	Action string   `json:"action"`
	CardID string   `json:"cardId"`
	Prompt string   `json:"prompt"`
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
}

// CardState is the public view of a single card.
type CardState struct {
	CardID  string  `json:"cardId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Visible bool    `json:"visible"`
}

type InitMessage struct {
	Type  string      `json:"type"`
	Cards []CardState `json:"cards"`
}

type NewCardMessage struct {
	Type   string  `json:"type"`
	CardID string  `json:"cardId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	// Image carries the card's cached art, base64 encoded, when one exists.
	Image string `json:"image,omitempty"`
}

type UpdateMessage struct {
	Type   string  `json:"type"`
	CardID string  `json:"cardId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Held   bool    `json:"held"`
}

// HandCard is a drawn card offered to the requester: an id plus a
// placement hint. Hand cards join the shared table only via
// placeCardFromHand.
type HandCard struct {
	CardID string  `json:"cardId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type DrawCardsMessage struct {
	Type  string     `json:"type"`
	Cards []HandCard `json:"cards"`
}

type CardImageMessage struct {
	Type   string `json:"type"`
	CardID string `json:"cardId"`
	Image  string `json:"image"`
}

type ImageMessage struct {
	Type  string `json:"type"`
	Image string `json:"image"`
}

type ErrorMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

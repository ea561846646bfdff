package realtime

import "github.com/matthewbaird/desk/internal/event"

// Client → server message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
)

// Server → client message types.
const (
	TypeEvent      = "event"
	TypeSubscribed = "subscribed"
	TypePong       = "pong"
	TypeError      = "error"
)

// ClientMessage is the envelope for every client-to-server message.
type ClientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Room string `json:"room,omitempty"`
}

// ServerMessage is the envelope for every server-to-client message.
type ServerMessage struct {
	Type      string       `json:"type"`
	RequestID string       `json:"request_id,omitempty"`
	Room      string       `json:"room,omitempty"`
	Event     *event.Event `json:"event,omitempty"`
	Error     string       `json:"error,omitempty"`
}

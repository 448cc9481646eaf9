package entities

import (
	"time"

	"chatcore/roomkey"
)

// MessageSource names the path a message candidate arrived on.
type MessageSource int

const (
	SOURCE_LOCAL     MessageSource = 0
	SOURCE_BROADCAST MessageSource = 1
	SOURCE_FEED      MessageSource = 2
	SOURCE_POLL      MessageSource = 3
)

var MessageSource_name = map[MessageSource]string{
	SOURCE_LOCAL:     "local",
	SOURCE_BROADCAST: "broadcast",
	SOURCE_FEED:      "feed",
	SOURCE_POLL:      "poll",
}

func (e MessageSource) String() string {
	return MessageSource_name[e]
}

// Message is immutable once built. Id is assigned by the sender before any
// transmission and is identical on every delivery path.
type Message struct {
	Id        string      `json:"id"`
	Room      roomkey.Key `json:"room"`
	Sender    string      `json:"sender"`
	Body      string      `json:"body"`
	SentAt    time.Time   `json:"sent_at"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
}

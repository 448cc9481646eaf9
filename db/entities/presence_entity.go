package entities

import (
	"time"

	"chatcore/roomkey"

	"github.com/samber/mo"
)

type PresenceRecord struct {
	UserId         string      `json:"user_id"`
	Room           roomkey.Key `json:"current_room"`
	IsTyping       bool        `json:"is_typing"`
	TypingAt       *time.Time  `json:"typing_at"`
	AwayText       *string     `json:"away_message"`
	LastActivityAt time.Time   `json:"last_activity"`
	JoinedAt       time.Time   `json:"joined_at"`
}

func (e *PresenceRecord) IsAway() bool {
	return e.AwayText != nil
}

func (e *PresenceRecord) Away() mo.Option[string] {
	return mo.PointerToOption(e.AwayText)
}

// PresencePatch is a partial update of a PresenceRecord. Absent options are
// left untouched. Away uses a nested option: Some(None) clears the away text.
type PresencePatch struct {
	Room           mo.Option[roomkey.Key]
	IsTyping       mo.Option[bool]
	Away           mo.Option[mo.Option[string]]
	LastActivityAt mo.Option[time.Time]
}

// Apply copies the present fields of the patch onto the record.
func (e PresencePatch) Apply(record *PresenceRecord, now time.Time) {
	if room, ok := e.Room.Get(); ok {
		record.Room = room
	}
	if typing, ok := e.IsTyping.Get(); ok {
		record.IsTyping = typing
		if typing {
			at := now
			record.TypingAt = &at
		}
	}
	if away, ok := e.Away.Get(); ok {
		if text, ok := away.Get(); ok {
			record.AwayText = &text
		} else {
			record.AwayText = nil
		}
	}
	if at, ok := e.LastActivityAt.Get(); ok {
		record.LastActivityAt = at
	}
}

package entities

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"

	"chatcore/roomkey"
)

func TestParseEventKind(t *testing.T) {
	for kind, name := range EventKind_name {
		assert.Equal(t, kind, ParseEventKind(name))
	}
	assert.Equal(t, EVENT_KIND_UNKNOWN, ParseEventKind("EVENT_KIND_DANCE"))
	assert.Equal(t, "back", EVENT_KIND_AWAY_CLEARED.Label())
}

func TestRoomEntityKey(t *testing.T) {
	public := &RoomEntity{RoomId: "7", Title: "Lobby"}
	private := &RoomEntity{RoomId: "42", Title: "Secret", IsPrivate: true}

	assert.Equal(t, roomkey.Public("Lobby"), public.Key())
	assert.Equal(t, roomkey.Private("42"), private.Key())
}

func TestChatItemAccessors(t *testing.T) {
	at := time.Unix(100, 0)
	msg := ChatItem{Message: &Message{Id: "m1", SentAt: at}}
	event := ChatItem{Event: &SystemEvent{Id: "e1", At: at.Add(time.Second)}}

	assert.True(t, msg.IsMessage())
	assert.Equal(t, "m1", msg.Id())
	assert.Equal(t, at, msg.At())
	assert.False(t, event.IsMessage())
	assert.Equal(t, "e1", event.Id())
}

func TestPresencePatchApply(t *testing.T) {
	now := time.Unix(500, 0)
	away := "lunch"
	record := &PresenceRecord{UserId: "alice", Room: roomkey.Default, AwayText: &away}

	PresencePatch{
		Room:     mo.Some(roomkey.Public("Lobby")),
		IsTyping: mo.Some(true),
	}.Apply(record, now)
	assert.Equal(t, roomkey.Public("Lobby"), record.Room)
	assert.True(t, record.IsTyping)
	assert.Equal(t, now, *record.TypingAt)
	assert.True(t, record.IsAway())

	PresencePatch{Away: mo.Some(mo.None[string]())}.Apply(record, now)
	assert.False(t, record.IsAway())
	assert.True(t, record.Away().IsAbsent())
}

package daos

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entities "chatcore/db/entities"
	"chatcore/roomkey"
)

func TestDecodeMessageChange(t *testing.T) {
	payload := `{"table":"chat_message","op":"INSERT","row":{"id":"0b6f3c1e-8a53-4d3e-9a4f-0f7f6f2b2c11","room":"room:42","sender":"alice","body":"hi","sent_at":"2024-03-01T09:00:00.5+00:00","created_at":"2024-03-01T09:00:01.123456+00:00"}}`

	change, err := decodeChange([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, entities.TABLE_MESSAGES, change.Table)
	assert.Equal(t, entities.CHANGE_OP_INSERT, change.Op)
	require.NotNil(t, change.Message)
	assert.Equal(t, roomkey.Private("42"), change.Message.Room)
	assert.Equal(t, "hi", change.Message.Body)
	assert.Equal(t, 123456000, change.Message.CreatedAt.Nanosecond())
}

func TestDecodePresenceChange(t *testing.T) {
	payload := `{"table":"online_user","op":"UPDATE","row":{"user_id":"bob","current_room":"Gaming","is_typing":true,"typing_at":"2024-03-01T09:00:00+00:00","away_message":null,"last_activity":"2024-03-01T09:00:00+00:00","joined_at":"2024-03-01T08:00:00+00:00"}}`

	change, err := decodeChange([]byte(payload))
	require.NoError(t, err)
	require.NotNil(t, change.Presence)
	assert.Equal(t, "bob", change.Presence.UserId)
	assert.Equal(t, roomkey.Key("Gaming"), change.Presence.Room)
	assert.True(t, change.Presence.IsTyping)
	assert.False(t, change.Presence.IsAway())
}

func TestDecodeChangeWithoutRow(t *testing.T) {
	change, err := decodeChange([]byte(`{"table":"chat_message","op":"INSERT"}`))
	require.NoError(t, err)
	assert.Nil(t, change.Message)
}

func TestDecodeChangeRejectsGarbage(t *testing.T) {
	_, err := decodeChange([]byte(`not json`))
	assert.Error(t, err)
	_, err = decodeChange([]byte(`{"table":"other","op":"INSERT","row":{}}`))
	assert.Error(t, err)
}

func TestPresenceAssignments(t *testing.T) {
	sets, args := presenceAssignments(entities.PresencePatch{})
	assert.Empty(t, sets)
	assert.Empty(t, args)

	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	sets, args = presenceAssignments(entities.PresencePatch{
		Room:           mo.Some(roomkey.Key("Gaming")),
		IsTyping:       mo.Some(true),
		Away:           mo.Some(mo.None[string]()),
		LastActivityAt: mo.Some(at),
	})
	assert.Equal(t, []string{
		"current_room = $1",
		"is_typing = $2",
		"typing_at = now()",
		"away_message = $3",
		"last_activity = $4",
	}, sets)
	require.Len(t, args, 4)
	assert.Equal(t, "Gaming", args[0])
	assert.Nil(t, args[2].(*string))
	assert.Equal(t, at, args[3])
}

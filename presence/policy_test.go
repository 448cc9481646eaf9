package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chatcore/db/entities"
	"chatcore/roomkey"
)

func TestPolicyView(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	policy := Policy{ActiveWindow: 5 * time.Minute, TypingStaleWindow: time.Minute}
	recent := now.Add(-10 * time.Second)
	oldTyping := now.Add(-2 * time.Minute)
	away := "brb"

	records := []*entities.PresenceRecord{
		{UserId: "me", Room: roomkey.Default, LastActivityAt: now, IsTyping: true, TypingAt: &recent},
		{UserId: "alice", Room: roomkey.Default, LastActivityAt: now, IsTyping: true, TypingAt: &recent},
		{UserId: "bob", Room: roomkey.Default, LastActivityAt: now, IsTyping: true, TypingAt: &oldTyping, AwayText: &away},
		{UserId: "carol", Room: "Gaming", LastActivityAt: now},
		{UserId: "dave", Room: roomkey.Default, LastActivityAt: now.Add(-10 * time.Minute)},
	}

	view := policy.View(records, roomkey.Default, "me", now)
	assert.Equal(t, []string{"alice", "bob", "me"}, view.Members)
	assert.Equal(t, []string{"alice"}, view.Typing)
	assert.True(t, view.Away["bob"])
	assert.False(t, view.Away["alice"])
	_, seenDave := view.Away["dave"]
	assert.False(t, seenDave)
}

func TestPolicyOccupancy(t *testing.T) {
	now := time.Now()
	policy := Policy{ActiveWindow: time.Minute, TypingStaleWindow: time.Minute}
	records := []*entities.PresenceRecord{
		{UserId: "a", Room: roomkey.Default, LastActivityAt: now},
		{UserId: "b", Room: roomkey.Default, LastActivityAt: now},
		{UserId: "c", Room: roomkey.Private("7"), LastActivityAt: now},
		{UserId: "d", Room: "Gaming", LastActivityAt: now.Add(-time.Hour)},
	}

	counts := policy.Occupancy(records, now)
	assert.Equal(t, 2, counts[roomkey.Default])
	assert.Equal(t, 1, counts[roomkey.Private("7")])
	assert.Zero(t, counts["Gaming"])
}

package timeline

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/db/entities"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func msg(id string, sec int) *entities.Message {
	return &entities.Message{Id: id, Sender: "alice", Body: id, SentAt: at(sec)}
}

func event(id string, sec int) *entities.SystemEvent {
	return &entities.SystemEvent{Id: id, Kind: entities.EVENT_KIND_JOIN, Subject: "bob", At: at(sec)}
}

func ids(items []entities.ChatItem) []string {
	return lo.Map(items, func(item entities.ChatItem, _ int) string { return item.Id() })
}

func TestMergeInterleaves(t *testing.T) {
	merged := Merge(
		[]*entities.Message{msg("m1", 1), msg("m3", 3), msg("m5", 5)},
		[]*entities.SystemEvent{event("e2", 2), event("e4", 4)},
	)
	assert.Equal(t, []string{"m1", "e2", "m3", "e4", "m5"}, ids(merged))
}

func TestMergeMessagesFirstOnTie(t *testing.T) {
	merged := Merge(
		[]*entities.Message{msg("m1", 1)},
		[]*entities.SystemEvent{event("e1", 1)},
	)
	require.Len(t, merged, 2)
	assert.True(t, merged[0].IsMessage())
	assert.False(t, merged[1].IsMessage())
}

func TestMergeEmptySides(t *testing.T) {
	assert.Empty(t, Merge(nil, nil))
	assert.Equal(t, []string{"e1", "e2"}, ids(Merge(nil, []*entities.SystemEvent{event("e1", 1), event("e2", 2)})))
	assert.Equal(t, []string{"m1"}, ids(Merge([]*entities.Message{msg("m1", 1)}, nil)))
}

func TestMessagesInsertOrdered(t *testing.T) {
	list := NewMessages()
	list.Insert(msg("c", 3))
	list.Insert(msg("a", 1))
	list.Insert(msg("b", 2))
	list.Insert(msg("b2", 2))

	got := lo.Map(list.List(), func(item *entities.Message, _ int) string { return item.Id })
	assert.Equal(t, []string{"a", "b", "b2", "c"}, got)
	assert.Equal(t, 4, list.Len())
}

func TestMessagesListIsCopy(t *testing.T) {
	list := NewMessages()
	list.Insert(msg("a", 1))
	snapshot := list.List()
	list.Insert(msg("b", 2))
	assert.Len(t, snapshot, 1)
}

// Package timeline keeps the per-room message list ordered by send time and
// interleaves it with locally synthesized system events for display.
package timeline

import (
	"sort"

	"chatcore/db/entities"
)

// Messages is ordered by SentAt. Messages with equal SentAt keep their
// insertion order.
type Messages struct {
	items []*entities.Message
}

func NewMessages() *Messages {
	return &Messages{items: make([]*entities.Message, 0)}
}

// Insert places msg after every message sent at or before it.
func (e *Messages) Insert(msg *entities.Message) {
	idx := sort.Search(len(e.items), func(i int) bool {
		return e.items[i].SentAt.After(msg.SentAt)
	})
	e.items = append(e.items, nil)
	copy(e.items[idx+1:], e.items[idx:])
	e.items[idx] = msg
}

func (e *Messages) Len() int {
	return len(e.items)
}

// List returns a copy of the ordered messages.
func (e *Messages) List() []*entities.Message {
	result := make([]*entities.Message, len(e.items))
	copy(result, e.items)
	return result
}

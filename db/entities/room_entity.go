package entities

import "chatcore/roomkey"

type RoomEntity struct {
	RoomId    string
	Title     string
	IsPrivate bool
}

// Key maps the room to its canonical key. Public rooms are keyed by title,
// private rooms by id, so renaming a private room keeps its key.
func (e *RoomEntity) Key() roomkey.Key {
	if e.IsPrivate {
		return roomkey.Private(e.RoomId)
	}
	return roomkey.Public(e.Title)
}

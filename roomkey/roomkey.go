// Package roomkey maps rooms to the canonical string key every other
// component scopes by. Display names are never compared directly.
package roomkey

import "strings"

type Key string

const (
	Default       Key = "Town Square"
	privatePrefix     = "room:"
)

// Public keys a public room by its name.
func Public(name string) Key {
	return Key(strings.TrimSpace(name))
}

// Private keys a private room by its id.
func Private(id string) Key {
	return Key(privatePrefix + strings.TrimSpace(id))
}

// Parse accepts either form as typed by a user: "room:<id>" or a public name.
// An empty input yields Default.
func Parse(value string) Key {
	value = strings.TrimSpace(value)
	if value == "" {
		return Default
	}
	if id, ok := strings.CutPrefix(value, privatePrefix); ok {
		return Private(id)
	}
	return Public(value)
}

func (k Key) IsPrivate() bool {
	return strings.HasPrefix(string(k), privatePrefix)
}

func (k Key) PrivateId() (string, bool) {
	return strings.CutPrefix(string(k), privatePrefix)
}

func (k Key) String() string {
	return string(k)
}

// Channel is the broadcast channel name for the room.
func (k Key) Channel() string {
	return "chat:" + string(k)
}

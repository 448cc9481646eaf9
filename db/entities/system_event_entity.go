package entities

import "time"

// SystemEvent is derived locally from presence snapshots and never stored.
type SystemEvent struct {
	Id      string
	Kind    EventKind
	Subject string
	Text    string
	At      time.Time
}

// ChatItem holds exactly one of Message or Event.
type ChatItem struct {
	Message *Message
	Event   *SystemEvent
}

func (e ChatItem) IsMessage() bool {
	return e.Message != nil
}

func (e ChatItem) At() time.Time {
	if e.Message != nil {
		return e.Message.SentAt
	}
	return e.Event.At
}

func (e ChatItem) Id() string {
	if e.Message != nil {
		return e.Message.Id
	}
	return e.Event.Id
}

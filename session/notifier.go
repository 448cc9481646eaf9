package session

import (
	"chatcore/db/entities"
	"chatcore/roomkey"
)

// Notifier receives audible cues. It is called on the session goroutine and
// must not block.
type Notifier interface {
	MessageReceived(msg *entities.Message)
	MemberJoined(userId string, room roomkey.Key)
	MemberLeft(userId string, room roomkey.Key)
}

type nopNotifier struct{}

func (nopNotifier) MessageReceived(*entities.Message) {}

func (nopNotifier) MemberJoined(string, roomkey.Key) {}

func (nopNotifier) MemberLeft(string, roomkey.Key) {}

// Preferences is the viewer's block list and warnings.
type Preferences interface {
	IsBlocked(userId string) bool
	Block(userId string) error
	Unblock(userId string) error
	Warn(userId string) (entities.UserWarning, error)
}

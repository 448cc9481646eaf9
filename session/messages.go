package session

import (
	"time"

	"chatcore/db/entities"
	"chatcore/roomkey"
)

// sessionMessage is the only way into the session goroutine. OutChan is
// nil for fire-and-forget messages.
type sessionMessage struct {
	Message any
	OutChan chan any
}

type sendRequest struct {
	Body string
}

type sendReply struct {
	Message *entities.Message
	Err     error
}

// incoming is a message candidate from any path.
type incoming struct {
	Message *entities.Message
	Source  entities.MessageSource
}

type switchRequest struct {
	Room roomkey.Key
}

type switchReply struct {
	Generation uint64
	Err        error
}

// pollTrigger asks for a background poll. A zero Generation matches any room.
type pollTrigger struct {
	Generation uint64
	Reason     string
}

// pollTarget asks for the room, cursor and generation to poll with.
type pollTarget struct {
	Background bool
}

type pollTargetReply struct {
	Room       roomkey.Key
	Cursor     time.Time
	Generation uint64
	Limit      int
	Skip       bool
	Err        error
}

type pollResult struct {
	Generation uint64
	Background bool
	Limit      int
	Rows       []*entities.Message
	Err        error
}

type pollResultReply struct {
	Accepted int
}

type presenceChanged struct{}

type presenceResult struct {
	Generation uint64
	Initial    bool
	Rows       []*entities.PresenceRecord
	Err        error
}

type stateRequest struct{}

type snapshotRequest struct{}

type signOffRequest struct{}

type stopRequest struct{}

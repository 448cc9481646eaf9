package server

import "chatcore/relay"

type MessageToRoom struct {
	Message any
	OutChan chan any
}

type JoinRoom struct {
	Event string
}

type JoinRoomReply struct {
	SubscriberId uint64
	Out          <-chan *relay.Envelope
}

type LeaveRoom struct {
	SubscriberId uint64
}

type LeaveRoomReply struct {
	Remaining int
}

type PublishToRoom struct {
	Envelope *relay.Envelope
}

type PublishReply struct {
	Delivered int
	Dropped   int
}

type GetRoomDetail struct{}

type RoomDetailReply struct {
	Reply *RoomDetail
}

// RoomDetail describes one relay channel.
type RoomDetail struct {
	Channel     string `json:"channel"`
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

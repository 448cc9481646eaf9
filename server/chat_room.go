package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"chatcore/logging"
	"chatcore/relay"
)

var ErrRoomStopped = errors.New("relay room stopped")

type subscriber struct {
	event string
	out   chan *relay.Envelope
}

// ChatRoom fans payloads out to the subscribers of one channel. A slow
// subscriber loses payloads instead of holding up the others.
type ChatRoom struct {
	Id          string
	buffer      int
	subscribers map[uint64]*subscriber
	nextId      uint64
	published   uint64
	dropped     uint64
	InChan      chan *MessageToRoom
	done        chan struct{}
	stop        context.CancelFunc
	log         zerolog.Logger
}

func CreateRoom(channel string, buffer int) *ChatRoom {
	return &ChatRoom{
		Id:          channel,
		buffer:      buffer,
		subscribers: make(map[uint64]*subscriber),
		InChan:      make(chan *MessageToRoom),
		done:        make(chan struct{}),
		stop:        func() {},
		log:         logging.Component("relay-room").With().Str("channel", channel).Logger(),
	}
}

func (e *ChatRoom) Run(ctx context.Context) {
	e.log.Debug().Msg("room started")
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			for id, sub := range e.subscribers {
				close(sub.out)
				delete(e.subscribers, id)
			}
			e.log.Debug().Msg("room stopped")
			return
		case inMsg := <-e.InChan:
			switch v := inMsg.Message.(type) {
			case *JoinRoom:
				inMsg.OutChan <- e.join(v.Event)
			case *LeaveRoom:
				e.leave(v.SubscriberId)
				inMsg.OutChan <- &LeaveRoomReply{Remaining: len(e.subscribers)}
			case *PublishToRoom:
				inMsg.OutChan <- e.publish(v.Envelope)
			case *GetRoomDetail:
				inMsg.OutChan <- &RoomDetailReply{
					Reply: e.getRoomDetail(),
				}
			default:
				inMsg.OutChan <- fmt.Sprintf("unhandled message %T", v)
			}
		}
	}
}

// Ask sends message to the room goroutine and waits for its reply.
func (e *ChatRoom) Ask(ctx context.Context, message any) (any, error) {
	outChan := make(chan any, 1)
	select {
	case e.InChan <- &MessageToRoom{Message: message, OutChan: outChan}:
	case <-e.done:
		return nil, ErrRoomStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case reply := <-outChan:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *ChatRoom) join(event string) *JoinRoomReply {
	e.nextId++
	sub := &subscriber{event: event, out: make(chan *relay.Envelope, e.buffer)}
	e.subscribers[e.nextId] = sub
	return &JoinRoomReply{SubscriberId: e.nextId, Out: sub.out}
}

func (e *ChatRoom) leave(id uint64) {
	if sub, ok := e.subscribers[id]; ok {
		close(sub.out)
		delete(e.subscribers, id)
	}
}

func (e *ChatRoom) publish(envelope *relay.Envelope) *PublishReply {
	e.published++
	reply := &PublishReply{}
	for _, sub := range e.subscribers {
		if sub.event != envelope.Event {
			continue
		}
		select {
		case sub.out <- envelope:
			reply.Delivered++
		default:
			reply.Dropped++
		}
	}
	e.dropped += uint64(reply.Dropped)
	return reply
}

func (e *ChatRoom) getRoomDetail() *RoomDetail {
	return &RoomDetail{
		Channel:     e.Id,
		Subscribers: len(e.subscribers),
		Published:   e.published,
		Dropped:     e.dropped,
	}
}

package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/samber/mo"

	"chatcore/utils"
)

// RoomManager owns one ChatRoom per channel. A room is created by its first
// subscriber and stopped when the last one leaves.
type RoomManager struct {
	ctx    context.Context
	buffer int
	mu     sync.Mutex
	rooms  map[string]*ChatRoom
}

func CreateRoomManager(ctx context.Context, subscriberBuffer int) *RoomManager {
	if subscriberBuffer <= 0 {
		subscriberBuffer = 1
	}
	return &RoomManager{
		ctx:    ctx,
		buffer: subscriberBuffer,
		rooms:  make(map[string]*ChatRoom),
	}
}

func (e *RoomManager) GetRooms(channels []string) map[string]*ChatRoom {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make(map[string]*ChatRoom)
	for k, v := range e.rooms {
		if len(channels) == 0 {
			result[k] = v
		} else {
			for _, channel := range channels {
				if k == channel {
					result[k] = v
				}
			}
		}
	}
	return result
}

func (e *RoomManager) FindRoom(channel string) mo.Option[*ChatRoom] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if room, ok := e.rooms[channel]; ok {
		return mo.Some(room)
	}
	return mo.None[*ChatRoom]()
}

// getOrCreateRoom must be called with mu held.
func (e *RoomManager) getOrCreateRoom(channel string) *ChatRoom {
	if room, ok := e.rooms[channel]; ok {
		return room
	}
	room := CreateRoom(channel, e.buffer)
	ctx, cancel := context.WithCancel(e.ctx)
	room.stop = cancel
	e.rooms[channel] = room
	go room.Run(ctx)
	return room
}

// Join adds a subscriber to the channel's room, creating the room if needed.
// Joins and leaves are serialized so a room is never removed while a join
// is landing in it.
func (e *RoomManager) Join(ctx context.Context, channel string, event string) (*ChatRoom, *JoinRoomReply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	room := e.getOrCreateRoom(channel)
	msg, err := room.Ask(ctx, &JoinRoom{Event: event})
	if err != nil {
		return nil, nil, err
	}
	reply, ok := msg.(*JoinRoomReply)
	if !ok {
		return nil, nil, fmt.Errorf("relay room replied %v", msg)
	}
	return room, reply, nil
}

// Leave removes a subscriber and stops the room once it is empty.
func (e *RoomManager) Leave(ctx context.Context, room *ChatRoom, subscriberId uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	msg, err := room.Ask(ctx, &LeaveRoom{SubscriberId: subscriberId})
	if err != nil {
		return err
	}
	reply, ok := msg.(*LeaveRoomReply)
	if !ok {
		return fmt.Errorf("relay room replied %v", msg)
	}
	if reply.Remaining == 0 && e.rooms[room.Id] == room {
		delete(e.rooms, room.Id)
		room.stop()
	}
	return nil
}

// ListRooms asks every room for its detail concurrently.
func (e *RoomManager) ListRooms(ctx context.Context, channels []string) []*RoomDetail {
	rooms := e.GetRooms(channels)
	roomDetails := make([]*RoomDetail, len(rooms))
	var wg sync.WaitGroup
	wg.Add(len(rooms))
	utils.MapForEach[string, *ChatRoom](
		rooms,
		func(k string, v *ChatRoom, index int) {
			go func(idx int) {
				defer wg.Done()
				msg, err := v.Ask(ctx, &GetRoomDetail{})
				if err != nil {
					return
				}
				if result, ok := msg.(*RoomDetailReply); ok {
					roomDetails[idx] = result.Reply
				}
			}(index)
		})
	wg.Wait()

	result := make([]*RoomDetail, 0, len(roomDetails))
	for _, detail := range roomDetails {
		if detail != nil {
			result = append(result, detail)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Channel < result[j].Channel })
	return result
}

package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"chatcore/logging"
	"chatcore/metrics"
	"chatcore/relay"
)

const leaveTimeout = 5 * time.Second

// ChatStreamService is the relay: it accepts publishes and streams them to
// every subscriber of the same channel and event.
type ChatStreamService struct {
	roomManager *RoomManager
	log         zerolog.Logger
}

var _ relay.RelayServer = (*ChatStreamService)(nil)

func NewChatStreamService(roomManager *RoomManager) *ChatStreamService {
	return &ChatStreamService{
		roomManager: roomManager,
		log:         logging.Component("relay"),
	}
}

func (e *ChatStreamService) Publish(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	envelope, err := relay.EnvelopeFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if _, err := e.Fanout(ctx, envelope); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// Fanout hands envelope to the channel's room and records the outcome.
func (e *ChatStreamService) Fanout(ctx context.Context, envelope *relay.Envelope) (*PublishReply, error) {
	found := e.roomManager.FindRoom(envelope.Channel)
	room, ok := found.Get()
	if !ok {
		return &PublishReply{}, nil
	}
	msg, err := room.Ask(ctx, &PublishToRoom{Envelope: envelope})
	if errors.Is(err, ErrRoomStopped) {
		// The last subscriber left while this publish was on its way.
		return &PublishReply{}, nil
	}
	if err != nil {
		return nil, err
	}
	reply, ok := msg.(*PublishReply)
	if !ok {
		return nil, fmt.Errorf("relay room replied %v", msg)
	}
	metrics.RelayPublished.WithLabelValues("delivered").Add(float64(reply.Delivered))
	metrics.RelayPublished.WithLabelValues("dropped").Add(float64(reply.Dropped))
	if reply.Dropped > 0 {
		e.log.Debug().Str("channel", envelope.Channel).Int("dropped", reply.Dropped).Msg("slow subscribers skipped")
	}
	return reply, nil
}

func (e *ChatStreamService) Subscribe(req *structpb.Struct, stream relay.Relay_SubscribeServer) error {
	topic, err := relay.TopicFromStruct(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	ctx := stream.Context()
	sub, err := e.Join(ctx, topic)
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	defer sub.Leave()

	if err := stream.Send(relay.SubscribedAck()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case envelope, ok := <-sub.Out:
			if !ok {
				return status.Error(codes.Unavailable, "relay shutting down")
			}
			frame, err := envelope.ToStruct()
			if err != nil {
				continue
			}
			if err := stream.Send(frame); err != nil {
				return err
			}
		}
	}
}

// Subscription is one registered listener on a relay room.
type Subscription struct {
	Out     <-chan *relay.Envelope
	manager *RoomManager
	room    *ChatRoom
	id      uint64
	topic   relay.Topic
}

// Join registers a listener for topic. Call Leave when done.
func (e *ChatStreamService) Join(ctx context.Context, topic relay.Topic) (*Subscription, error) {
	room, reply, err := e.roomManager.Join(ctx, topic.Channel, topic.Event)
	if err != nil {
		return nil, err
	}
	metrics.RelaySubscribers.Inc()
	return &Subscription{Out: reply.Out, manager: e.roomManager, room: room, id: reply.SubscriberId, topic: topic}, nil
}

func (e *Subscription) Leave() {
	metrics.RelaySubscribers.Dec()
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	// A stopped room already closed every subscriber.
	_ = e.manager.Leave(ctx, e.room, e.id)
}

// ListRooms reports every relay room, for the http status endpoint.
func (e *ChatStreamService) ListRooms(ctx context.Context) []*RoomDetail {
	return e.roomManager.ListRooms(ctx, nil)
}

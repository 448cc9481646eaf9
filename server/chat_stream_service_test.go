package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"chatcore/config"
	"chatcore/db/entities"
	"chatcore/relay"
	"chatcore/roomkey"
	"chatcore/session"
	"chatcore/store"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type testRelay struct {
	service     *ChatStreamService
	interceptor *ClientInterceptor
	lis         *bufconn.Listener
}

func startRelay(t *testing.T, rps float64, burst int) *testRelay {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	service := NewChatStreamService(CreateRoomManager(ctx, 16))
	interceptor := NewClientInterceptor(rps, burst)

	lis := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(interceptor.Unary()),
		grpc.StreamInterceptor(interceptor.Stream()),
	)
	relay.RegisterRelayServer(grpcServer, service)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(func() {
		grpcServer.Stop()
		cancel()
	})
	return &testRelay{service: service, interceptor: interceptor, lis: lis}
}

func (r *testRelay) dial(t *testing.T, clientId string) *relay.Client {
	t.Helper()
	client, err := relay.Dial("bufnet", clientId,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return r.lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func (r *testRelay) subscribers(channel string) int {
	for _, detail := range r.service.ListRooms(context.Background()) {
		if detail.Channel == channel {
			return detail.Subscribers
		}
	}
	return 0
}

type collector struct {
	mu       sync.Mutex
	payloads []string
}

func (c *collector) add(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, string(payload))
}

func (c *collector) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.payloads...)
}

func TestPublishReachesSubscriberAfterReady(t *testing.T) {
	r := startRelay(t, 0, 0)
	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")

	got := &collector{}
	ready := make(chan struct{}, 1)
	sub, err := bob.SubscribeBroadcast(context.Background(), "chat:default", store.MessageEvent, got.add, func() {
		ready <- struct{}{}
	})
	require.NoError(t, err)
	defer sub.Close()

	select {
	case <-ready:
	case <-time.After(waitFor):
		t.Fatal("subscription never became ready")
	}

	require.NoError(t, alice.PublishBroadcast(context.Background(), "chat:default", store.MessageEvent, []byte(`{"n":1}`)))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{`{"n":1}`}, got.list())
	}, waitFor, tick)
}

func TestSubscriberOnlySeesItsTopic(t *testing.T) {
	r := startRelay(t, 0, 0)
	client := r.dial(t, "alice")

	got := &collector{}
	sub, err := client.SubscribeBroadcast(context.Background(), "chat:default", store.MessageEvent, got.add, nil)
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool { return r.subscribers("chat:default") == 1 }, waitFor, tick)

	ctx := context.Background()
	require.NoError(t, client.PublishBroadcast(ctx, "chat:other", store.MessageEvent, []byte("other room")))
	require.NoError(t, client.PublishBroadcast(ctx, "chat:default", "typing", []byte("other event")))
	require.NoError(t, client.PublishBroadcast(ctx, "chat:default", store.MessageEvent, []byte("mine")))

	require.Eventually(t, func() bool { return len(got.list()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"mine"}, got.list())
}

func TestClosedSubscriptionLeavesRoom(t *testing.T) {
	r := startRelay(t, 0, 0)
	client := r.dial(t, "alice")

	sub, err := client.SubscribeBroadcast(context.Background(), "chat:default", store.MessageEvent, func([]byte) {}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.subscribers("chat:default") == 1 }, waitFor, tick)

	require.NoError(t, sub.Close())
	require.Eventually(t, func() bool { return r.subscribers("chat:default") == 0 }, waitFor, tick)
}

func TestPublishIsRateLimitedPerClient(t *testing.T) {
	r := startRelay(t, 0.001, 2)
	alice := r.dial(t, "alice")
	bob := r.dial(t, "bob")
	ctx := context.Background()

	require.NoError(t, alice.PublishBroadcast(ctx, "chat:default", store.MessageEvent, []byte("1")))
	require.NoError(t, alice.PublishBroadcast(ctx, "chat:default", store.MessageEvent, []byte("2")))
	err := alice.PublishBroadcast(ctx, "chat:default", store.MessageEvent, []byte("3"))
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	require.NoError(t, bob.PublishBroadcast(ctx, "chat:default", store.MessageEvent, []byte("4")))
}

func TestPublishRejectsInvalidEnvelope(t *testing.T) {
	r := startRelay(t, 0, 0)
	req, err := structpb.NewStruct(map[string]any{"channel": "chat:default"})
	require.NoError(t, err)

	_, err = r.service.Publish(context.Background(), req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestListRoomsCountsTraffic(t *testing.T) {
	r := startRelay(t, 0, 0)
	ctx := context.Background()

	sub, err := r.service.Join(ctx, relay.Topic{Channel: "chat:b", Event: store.MessageEvent})
	require.NoError(t, err)
	defer sub.Leave()

	reply, err := r.service.Fanout(ctx, &relay.Envelope{Channel: "chat:b", Event: store.MessageEvent, Payload: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, 1, reply.Delivered)

	// Nobody listens on chat:a, so publishing there creates no room.
	reply, err = r.service.Fanout(ctx, &relay.Envelope{Channel: "chat:a", Event: store.MessageEvent, Payload: []byte("y")})
	require.NoError(t, err)
	assert.Zero(t, reply.Delivered)

	rooms := r.service.ListRooms(ctx)
	require.Len(t, rooms, 1)
	assert.Equal(t, &RoomDetail{Channel: "chat:b", Subscribers: 1, Published: 1}, rooms[0])
	assert.True(t, r.service.roomManager.FindRoom("chat:b").IsPresent())
	assert.True(t, r.service.roomManager.FindRoom("chat:a").IsAbsent())
}

func TestRoomStopsWhenLastSubscriberLeaves(t *testing.T) {
	r := startRelay(t, 0, 0)
	ctx := context.Background()
	topic := relay.Topic{Channel: "chat:temp", Event: store.MessageEvent}

	first, err := r.service.Join(ctx, topic)
	require.NoError(t, err)
	second, err := r.service.Join(ctx, topic)
	require.NoError(t, err)
	room := r.service.roomManager.FindRoom("chat:temp").MustGet()

	first.Leave()
	assert.True(t, r.service.roomManager.FindRoom("chat:temp").IsPresent())

	second.Leave()
	assert.True(t, r.service.roomManager.FindRoom("chat:temp").IsAbsent())
	select {
	case <-room.done:
	case <-time.After(waitFor):
		t.Fatal("room goroutine still running")
	}

	again, err := r.service.Join(ctx, topic)
	require.NoError(t, err)
	defer again.Leave()
	reply, err := r.service.Fanout(ctx, &relay.Envelope{Channel: "chat:temp", Event: store.MessageEvent, Payload: []byte("z")})
	require.NoError(t, err)
	assert.Equal(t, 1, reply.Delivered)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service := NewChatStreamService(CreateRoomManager(ctx, 1))

	sub, err := service.Join(ctx, relay.Topic{Channel: "chat:x", Event: store.MessageEvent})
	require.NoError(t, err)
	defer sub.Leave()

	envelope := &relay.Envelope{Channel: "chat:x", Event: store.MessageEvent, Payload: []byte("p")}
	first, err := service.Fanout(ctx, envelope)
	require.NoError(t, err)
	second, err := service.Fanout(ctx, envelope)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Delivered)
	assert.Equal(t, 1, second.Dropped)
}

func TestSessionsExchangeMessagesOverRelay(t *testing.T) {
	r := startRelay(t, 0, 0)
	mem := store.NewMemory()
	timing := config.DefaultTiming()
	timing.HeartbeatInterval = 50 * time.Millisecond
	timing.PollSafetyDelay = 20 * time.Millisecond

	start := func(user string) *session.Session {
		s, err := session.New(session.Options{
			Self:   user,
			Room:   roomkey.Default,
			Timing: timing,
			Backend: store.Backend{
				Presence:  mem,
				Feed:      mem,
				Broadcast: r.dial(t, user),
			},
		})
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		go s.Run(ctx)
		t.Cleanup(func() {
			cancel()
			<-s.Done()
		})
		require.Eventually(t, func() bool {
			state, err := s.State(context.Background())
			return err == nil && state == session.STATE_ACTIVE
		}, waitFor, tick)
		return s
	}

	alice := start("alice")
	bob := start("bob")
	require.Eventually(t, func() bool { return r.subscribers(roomkey.Default.Channel()) == 2 }, waitFor, tick)

	_, err := alice.Send(context.Background(), "hello over the relay")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, err := bob.Snapshot(context.Background())
		if err != nil {
			return false
		}
		return lo.ContainsBy(view.Items, func(item entities.ChatItem) bool {
			return item.IsMessage() && item.Message.Body == "hello over the relay" && item.Message.Sender == "alice"
		})
	}, waitFor, tick)
}

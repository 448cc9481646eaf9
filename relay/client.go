package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"chatcore/config"
	"chatcore/logging"
	"chatcore/store"
	"chatcore/utils"
)

const (
	minResubscribeDelay = 200 * time.Millisecond
	maxResubscribeDelay = 5 * time.Second
)

// Client publishes to and subscribes on a relay. It satisfies
// store.Broadcaster.
type Client struct {
	conn     *grpc.ClientConn
	clientId string
	log      zerolog.Logger
}

// TransportCredentials picks TLS when enabled, plain TCP otherwise. CertFile
// is the CA used to verify the relay.
func TransportCredentials(cfg config.TLSConfig) (grpc.DialOption, error) {
	if !cfg.Enabled {
		return grpc.WithTransportCredentials(insecure.NewCredentials()), nil
	}
	creds, err := credentials.NewClientTLSFromFile(cfg.CertFile, "")
	if err != nil {
		return nil, fmt.Errorf("load relay tls: %w", err)
	}
	return grpc.WithTransportCredentials(creds), nil
}

// Dial connects lazily; the first call surfaces connection problems.
func Dial(target string, clientId string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.Dial(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", target, err)
	}
	return &Client{
		conn:     conn,
		clientId: clientId,
		log:      logging.Component("relay-client").With().Str("target", target).Logger(),
	}, nil
}

func (e *Client) Close() error {
	return e.conn.Close()
}

func (e *Client) PublishBroadcast(ctx context.Context, channel string, event string, payload []byte) error {
	req, err := (&Envelope{Channel: channel, Event: event, Payload: payload}).ToStruct()
	if err != nil {
		return err
	}
	ctx = utils.WithClientId(ctx, e.clientId)
	if err := e.conn.Invoke(ctx, PublishMethod, req, new(emptypb.Empty)); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// SubscribeBroadcast keeps a subscription stream open, reopening it after
// failures. onReady runs after every successful (re)subscribe.
func (e *Client) SubscribeBroadcast(ctx context.Context, channel string, event string, onPayload func([]byte), onReady func()) (store.Subscription, error) {
	topic := Topic{Channel: channel, Event: event}
	req, err := topic.ToStruct()
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	go e.subscribeLoop(subCtx, topic, req, onPayload, onReady)

	var once sync.Once
	return store.SubscriptionFunc(func() error {
		once.Do(cancel)
		return nil
	}), nil
}

func (e *Client) subscribeLoop(ctx context.Context, topic Topic, req *structpb.Struct, onPayload func([]byte), onReady func()) {
	log := e.log.With().Str("channel", topic.Channel).Logger()
	delay := minResubscribeDelay
	for {
		delivered, err := e.subscribeOnce(ctx, topic, req, onPayload, onReady)
		if ctx.Err() != nil {
			return
		}
		if delivered {
			delay = minResubscribeDelay
		}
		log.Warn().Err(err).Dur("retry_in", delay).Msg("relay subscription lost")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay = min(delay*2, maxResubscribeDelay)
	}
}

// subscribeOnce runs one stream until it fails. It reports whether the
// stream got as far as the subscribed ack.
func (e *Client) subscribeOnce(ctx context.Context, topic Topic, req *structpb.Struct, onPayload func([]byte), onReady func()) (bool, error) {
	ctx = utils.WithClientId(ctx, e.clientId)
	stream, err := e.conn.NewStream(ctx, &Relay_ServiceDesc.Streams[0], SubscribeMethod)
	if err != nil {
		return false, err
	}
	if err := stream.SendMsg(req); err != nil {
		return false, err
	}
	if err := stream.CloseSend(); err != nil {
		return false, err
	}

	acked := false
	for {
		frame := new(structpb.Struct)
		if err := stream.RecvMsg(frame); err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("relay closed the stream")
			}
			return acked, err
		}
		if IsSubscribedAck(frame) {
			acked = true
			if onReady != nil {
				onReady()
			}
			continue
		}
		envelope, err := EnvelopeFromStruct(frame)
		if err != nil {
			e.log.Debug().Err(err).Msg("ignoring malformed relay frame")
			continue
		}
		if envelope.Channel != topic.Channel || envelope.Event != topic.Event {
			continue
		}
		onPayload(envelope.Payload)
	}
}

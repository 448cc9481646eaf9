package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"chatcore/relay"
	"chatcore/store"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WsFrame is what the websocket gateway reads and writes. Payloads are JSON
// documents; the relay itself treats them as opaque bytes.
type WsFrame struct {
	Subscribed bool            `json:"subscribed,omitempty"`
	Channel    string          `json:"channel,omitempty"`
	Event      string          `json:"event,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// HandleWebSocket bridges a browser to the relay. The socket subscribes to
// /ws/{channel}?event=... and every frame it sends is published there.
func HandleWebSocket(service *ChatStreamService, limiter *ClientInterceptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic := relay.Topic{Channel: mux.Vars(r)["channel"], Event: r.URL.Query().Get("event")}
		if topic.Event == "" {
			topic.Event = store.MessageEvent
		}
		if topic.Channel == "" {
			http.Error(w, "channel is required", http.StatusBadRequest)
			return
		}
		client := r.URL.Query().Get("client")
		if client == "" {
			client = anonymousClient
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			service.log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		sub, err := service.Join(ctx, topic)
		if err != nil {
			_ = conn.WriteJSON(WsFrame{Error: err.Error()})
			return
		}
		defer sub.Leave()

		replies := make(chan WsFrame, 8)
		go writeFrames(ctx, cancel, conn, sub.Out, replies)
		replies <- WsFrame{Subscribed: true, Channel: topic.Channel, Event: topic.Event}

		for {
			var in WsFrame
			if err := conn.ReadJSON(&in); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					service.log.Debug().Err(err).Str("client", client).Msg("websocket read ended")
				}
				return
			}
			if len(in.Payload) == 0 {
				continue
			}
			if limiter != nil && !limiter.Allow(client) {
				if !sendReply(ctx, replies, WsFrame{Error: "publishing too fast"}) {
					return
				}
				continue
			}
			envelope := &relay.Envelope{Channel: topic.Channel, Event: topic.Event, Payload: in.Payload}
			if _, err := service.Fanout(ctx, envelope); err != nil {
				return
			}
		}
	}
}

func sendReply(ctx context.Context, replies chan<- WsFrame, frame WsFrame) bool {
	select {
	case replies <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// writeFrames is the only goroutine writing to conn. Closing conn on exit
// unblocks the reader.
func writeFrames(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan *relay.Envelope, replies <-chan WsFrame) {
	defer conn.Close()
	defer cancel()
	for {
		var frame WsFrame
		select {
		case <-ctx.Done():
			return
		case frame = <-replies:
		case envelope, ok := <-out:
			if !ok {
				return
			}
			if !json.Valid(envelope.Payload) {
				continue
			}
			frame = WsFrame{Channel: envelope.Channel, Event: envelope.Event, Payload: envelope.Payload}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

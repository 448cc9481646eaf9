package relay

import (
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

var ErrInvalidEnvelope = errors.New("invalid relay envelope")

const (
	fieldChannel    = "channel"
	fieldEvent      = "event"
	fieldPayload    = "payload"
	fieldSubscribed = "subscribed"
)

// Envelope is one broadcast: an opaque payload addressed to a channel and
// event name.
type Envelope struct {
	Channel string
	Event   string
	Payload []byte
}

func (e *Envelope) Validate() error {
	if e.Channel == "" || e.Event == "" {
		return fmt.Errorf("%w: channel and event are required", ErrInvalidEnvelope)
	}
	return nil
}

// ToStruct encodes the envelope. The payload is base64 so arbitrary bytes
// survive the string field.
func (e *Envelope) ToStruct() (*structpb.Struct, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		fieldChannel: e.Channel,
		fieldEvent:   e.Event,
		fieldPayload: base64.StdEncoding.EncodeToString(e.Payload),
	})
}

func EnvelopeFromStruct(s *structpb.Struct) (*Envelope, error) {
	fields := s.GetFields()
	payload, err := base64.StdEncoding.DecodeString(fields[fieldPayload].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidEnvelope, err)
	}
	envelope := &Envelope{
		Channel: fields[fieldChannel].GetStringValue(),
		Event:   fields[fieldEvent].GetStringValue(),
		Payload: payload,
	}
	if err := envelope.Validate(); err != nil {
		return nil, err
	}
	return envelope, nil
}

// Topic selects what a subscriber receives.
type Topic struct {
	Channel string
	Event   string
}

func (e Topic) ToStruct() (*structpb.Struct, error) {
	if e.Channel == "" || e.Event == "" {
		return nil, fmt.Errorf("%w: channel and event are required", ErrInvalidEnvelope)
	}
	return structpb.NewStruct(map[string]any{
		fieldChannel: e.Channel,
		fieldEvent:   e.Event,
	})
}

func TopicFromStruct(s *structpb.Struct) (Topic, error) {
	fields := s.GetFields()
	topic := Topic{
		Channel: fields[fieldChannel].GetStringValue(),
		Event:   fields[fieldEvent].GetStringValue(),
	}
	if topic.Channel == "" || topic.Event == "" {
		return Topic{}, fmt.Errorf("%w: channel and event are required", ErrInvalidEnvelope)
	}
	return topic, nil
}

// SubscribedAck is the first frame of every subscription stream. Receiving
// it means the subscriber is registered and will see later publishes.
func SubscribedAck() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSubscribed: structpb.NewBoolValue(true),
	}}
}

func IsSubscribedAck(s *structpb.Struct) bool {
	return s.GetFields()[fieldSubscribed].GetBoolValue()
}

package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestEnvelopeStruct(t *testing.T) {
	original := &Envelope{Channel: "chat:Town Square", Event: "new-message", Payload: []byte{0xff, 0x00, '{', '}'}}

	encoded, err := original.ToStruct()
	require.NoError(t, err)
	decoded, err := EnvelopeFromStruct(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestEnvelopeRequiresAddress(t *testing.T) {
	_, err := (&Envelope{Event: "new-message"}).ToStruct()
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = EnvelopeFromStruct(&structpb.Struct{})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestEnvelopeRejectsBadPayload(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"channel": "c", "event": "e", "payload": "%%%"})
	require.NoError(t, err)
	_, err = EnvelopeFromStruct(s)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestTopicStruct(t *testing.T) {
	topic := Topic{Channel: "chat:room:7", Event: "new-message"}
	encoded, err := topic.ToStruct()
	require.NoError(t, err)
	decoded, err := TopicFromStruct(encoded)
	require.NoError(t, err)
	assert.Equal(t, topic, decoded)

	_, err = Topic{Channel: "c"}.ToStruct()
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestSubscribedAck(t *testing.T) {
	assert.True(t, IsSubscribedAck(SubscribedAck()))
	frame, err := (&Envelope{Channel: "c", Event: "e"}).ToStruct()
	require.NoError(t, err)
	assert.False(t, IsSubscribedAck(frame))
}

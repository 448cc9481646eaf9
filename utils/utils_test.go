package utils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

func TestNewMessageIdUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewMessageId()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestUuidRoundTrip(t *testing.T) {
	id := NewMessageId()
	parsed, err := StringToUuid(id)
	require.NoError(t, err)

	back, err := UuidToString(parsed)
	require.NoError(t, err)
	assert.Equal(t, id, *back)

	_, err = StringToUuid("abc123")
	assert.Error(t, err)
}

func TestClientIdFromContext(t *testing.T) {
	_, err := GetClientIdFromContext(context.Background())
	assert.Error(t, err)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(clientIdHeader, "alice"))
	id, err := GetClientIdFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", *id)
}

func TestSortedKeys(t *testing.T) {
	in := map[string]int{"b": 1, "a": 2, "c": 3}
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(in))
}

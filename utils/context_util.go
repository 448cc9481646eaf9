package utils

import (
	"context"
	"errors"

	"google.golang.org/grpc/metadata"
)

const clientIdHeader = "x-chat-client"

// WithClientId tags outgoing relay calls with the calling user.
func WithClientId(ctx context.Context, clientId string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, clientIdHeader, clientId)
}

func GetClientIdFromContext(ctx context.Context) (*string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, errors.New("metadata is not provided")
	}

	values := md[clientIdHeader]
	if len(values) == 0 {
		return nil, errors.New("client id is not provided")
	}

	clientId := values[0]
	if len(clientId) == 0 {
		return nil, errors.New("client id can't be empty")
	}

	return &clientId, nil
}

package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"chatcore/logging"
	"chatcore/metrics"
	"chatcore/relay"
	"chatcore/utils"
)

const anonymousClient = "anonymous"

// ClientInterceptor identifies callers by their client id header and holds
// each one to its own publish budget.
type ClientInterceptor struct {
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	log      zerolog.Logger
}

// NewClientInterceptor builds the interceptor. rps <= 0 disables limiting.
func NewClientInterceptor(rps float64, burst int) *ClientInterceptor {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &ClientInterceptor{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
		log:      logging.Component("relay-interceptor"),
	}
}

func clientId(ctx context.Context) string {
	id, err := utils.GetClientIdFromContext(ctx)
	if err != nil {
		return anonymousClient
	}
	return *id
}

// Allow spends one token from the client's budget.
func (e *ClientInterceptor) Allow(client string) bool {
	e.mu.Lock()
	limiter, ok := e.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(e.limit, e.burst)
		e.limiters[client] = limiter
	}
	e.mu.Unlock()
	if limiter.Allow() {
		return true
	}
	metrics.RelayPublished.WithLabelValues("limited").Inc()
	return false
}

func (e *ClientInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		client := clientId(ctx)
		e.log.Trace().Str("method", info.FullMethod).Str("client", client).Msg("unary call")

		if info.FullMethod == relay.PublishMethod && !e.Allow(client) {
			return nil, status.Errorf(codes.ResourceExhausted, "client %s is publishing too fast", client)
		}
		return handler(ctx, req)
	}
}

func (e *ClientInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		e.log.Debug().Str("method", info.FullMethod).Str("client", clientId(stream.Context())).Msg("stream opened")
		return handler(srv, stream)
	}
}

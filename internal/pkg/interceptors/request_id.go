// Package interceptors carries request metadata (request id, idempotency
// key, caller address) between transports and the context.
package interceptors

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// WithRequestMetadata stores the request metadata in ctx. An empty requestID
// is replaced by a fresh UUID.
func WithRequestMetadata(ctx context.Context, requestID, idempotencyKey string, caller settlement.Address) context.Context {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = context.WithValue(ctx, constants.ContextKeyRequestID, requestID)
	ctx = context.WithValue(ctx, constants.ContextKeyIdempotencyKey, idempotencyKey)
	return context.WithValue(ctx, constants.ContextKeyCaller, caller)
}

func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok {
		return id
	}
	return GetMetadataValue(ctx, constants.HeaderXRequestId)
}

func IdempotencyKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(constants.ContextKeyIdempotencyKey).(string); ok {
		return key
	}
	return GetMetadataValue(ctx, constants.HeaderXIdempotencyKey)
}

// CallerFromContext returns settlement.NoAddress for anonymous requests.
func CallerFromContext(ctx context.Context) settlement.Address {
	if caller, ok := ctx.Value(constants.ContextKeyCaller).(settlement.Address); ok {
		return caller
	}
	return settlement.Address(GetMetadataValue(ctx, constants.HeaderXCallerAddress))
}

// UnaryServerInterceptor lifts the request metadata out of the incoming gRPC
// metadata into the context.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		var requestID, idempotencyKey, caller string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			requestID = first(md, constants.HeaderXRequestId)
			idempotencyKey = first(md, constants.HeaderXIdempotencyKey)
			caller = first(md, constants.HeaderXCallerAddress)
		}
		ctx = WithRequestMetadata(ctx, requestID, idempotencyKey, settlement.Address(caller))
		return handler(ctx, req)
	}
}

// ContextWithPropagatedID copies the request metadata onto the outgoing gRPC
// metadata.
func ContextWithPropagatedID(ctx context.Context) context.Context {
	pairs := []string{constants.HeaderXRequestId, RequestIDFromContext(ctx)}
	if key := IdempotencyKeyFromContext(ctx); key != "" {
		pairs = append(pairs, constants.HeaderXIdempotencyKey, key)
	}
	if caller := CallerFromContext(ctx); !caller.IsZero() {
		pairs = append(pairs, constants.HeaderXCallerAddress, string(caller))
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

func GetMetadataValue(ctx context.Context, key string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := first(md, key); v != "" {
			return v
		}
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		return first(md, key)
	}
	return ""
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

package grpcx

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// Client calls the settlement service. Each call carries the request id and
// idempotency key found in ctx and acts as the given caller.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Call(ctx context.Context, caller settlement.Address, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("grpcx: encode %s request: %w", method, err)
	}
	ctx = interceptors.WithRequestMetadata(ctx,
		interceptors.RequestIDFromContext(ctx),
		interceptors.IdempotencyKeyFromContext(ctx),
		caller,
	)

	out := new(structpb.Struct)
	if err := c.cc.Invoke(interceptors.ContextWithPropagatedID(ctx), FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetOrder(ctx context.Context, caller settlement.Address, id settlement.OrderID) (*structpb.Struct, error) {
	return c.Call(ctx, caller, "GetOrder", map[string]any{"id": string(id)})
}

// Settle invokes one of the coordinator methods (CheckDeliveryForPot,
// ExecuteDelivery, CancelSettlement, DeactivateOldPot) on id.
func (c *Client) Settle(ctx context.Context, caller settlement.Address, method string, id settlement.OrderID) (*structpb.Struct, error) {
	return c.Call(ctx, caller, method, map[string]any{"id": string(id)})
}

// Package grpcx serves the settlement operations over gRPC.
//
// Messages are google.protobuf.Struct values, so the service is registered
// from a hand-written descriptor rather than generated stubs. The caller
// identity travels in the x-caller-address metadata key.
package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "settlement.v1.Settlement"

// SettlementServer is the server API of the settlement.v1.Settlement service.
type SettlementServer interface {
	IssueOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InitiatePayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeactivateOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangeAmount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TransferOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckDeliveryForPot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExecuteDelivery(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelSettlement(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeactivateOldPot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCoordinator(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type methodFunc func(SettlementServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call methodFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SettlementServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SettlementServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// FullMethod returns the wire name of method, e.g. /settlement.v1.Settlement/GetOrder.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SettlementServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("IssueOrder", SettlementServer.IssueOrder),
		unary("GetOrder", SettlementServer.GetOrder),
		unary("InitiatePayment", SettlementServer.InitiatePayment),
		unary("ConfirmPayment", SettlementServer.ConfirmPayment),
		unary("DeactivateOrder", SettlementServer.DeactivateOrder),
		unary("ChangeAmount", SettlementServer.ChangeAmount),
		unary("TransferOrder", SettlementServer.TransferOrder),
		unary("ApproveOrder", SettlementServer.ApproveOrder),
		unary("CheckDeliveryForPot", SettlementServer.CheckDeliveryForPot),
		unary("ExecuteDelivery", SettlementServer.ExecuteDelivery),
		unary("CancelSettlement", SettlementServer.CancelSettlement),
		unary("DeactivateOldPot", SettlementServer.DeactivateOldPot),
		unary("GetCoordinator", SettlementServer.GetCoordinator),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "settlement/v1/settlement.proto",
}

func RegisterSettlementServer(s grpc.ServiceRegistrar, srv SettlementServer) {
	s.RegisterService(&ServiceDesc, srv)
}

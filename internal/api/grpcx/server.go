package grpcx

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jcmexdev/dvp-settlement/internal/coordinator"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors"
	"github.com/jcmexdev/dvp-settlement/internal/registry"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

var codesByKind = map[error]codes.Code{
	settlement.ErrUnauthorized:       codes.PermissionDenied,
	settlement.ErrState:              codes.FailedPrecondition,
	settlement.ErrInsufficientFunds:  codes.FailedPrecondition,
	settlement.ErrDuplicate:          codes.AlreadyExists,
	settlement.ErrStale:              codes.FailedPrecondition,
	settlement.ErrPaused:             codes.Unavailable,
	settlement.ErrRange:              codes.OutOfRange,
	settlement.ErrNotFound:           codes.NotFound,
	settlement.ErrInvalid:            codes.InvalidArgument,
	settlement.ErrAlreadyInitialized: codes.FailedPrecondition,
	settlement.ErrUnsupported:        codes.Unimplemented,
}

// toStatus converts a domain error to a gRPC status error.
func toStatus(err error) error {
	code, ok := codesByKind[settlement.Kind(err)]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

type Server struct {
	registry    *registry.Registry
	coordinator *coordinator.Coordinator
	logger      *slog.Logger
}

var _ SettlementServer = (*Server)(nil)

func NewServer(reg *registry.Registry, coord *coordinator.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: reg, coordinator: coord, logger: logger}
}

func (s *Server) IssueOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := issueRequest(in)
	if err != nil {
		return nil, toStatus(err)
	}
	o, err := s.registry.Issue(ctx, interceptors.CallerFromContext(ctx), req)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.order(o)
}

func (s *Server) GetOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.currentOrder(ctx, id)
}

func (s *Server) InitiatePayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.orderCommand(ctx, in, s.registry.InitiatePayment)
}

func (s *Server) ConfirmPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.orderCommand(ctx, in, s.registry.ConfirmPayment)
}

func (s *Server) DeactivateOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.orderCommand(ctx, in, s.registry.Deactivate)
}

func (s *Server) ChangeAmount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	amount, err := decimalField(in, "amount")
	if err != nil {
		return nil, toStatus(err)
	}
	return s.orderCommand(ctx, in, func(ctx context.Context, caller settlement.Address, id settlement.OrderID) error {
		return s.registry.ChangeAmount(ctx, caller, id, amount)
	})
}

// TransferOrder returns an empty struct when the transfer retired the order.
func (s *Server) TransferOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, toStatus(err)
	}
	to := addressField(in, "to")
	if err := s.registry.Transfer(ctx, interceptors.CallerFromContext(ctx), addressField(in, "from"), to, id); err != nil {
		return nil, toStatus(err)
	}
	if to.Equal(s.registry.Address()) {
		return &structpb.Struct{}, nil
	}
	return s.currentOrder(ctx, id)
}

func (s *Server) ApproveOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	operator := addressField(in, "operator")
	return s.orderCommand(ctx, in, func(ctx context.Context, caller settlement.Address, id settlement.OrderID) error {
		return s.registry.Approve(ctx, caller, id, operator)
	})
}

func (s *Server) CheckDeliveryForPot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.orderCommand(ctx, in, s.coordinator.CheckDeliveryForPot)
}

func (s *Server) ExecuteDelivery(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.orderCommand(ctx, in, s.coordinator.ExecuteDelivery)
}

func (s *Server) CancelSettlement(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.orderCommand(ctx, in, s.coordinator.CancelSettlement)
}

func (s *Server) DeactivateOldPot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.orderCommand(ctx, in, s.coordinator.DeactivateOldPot)
}

func (s *Server) GetCoordinator(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	out, err := coordinatorStruct(s.coordinator)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) orderCommand(
	ctx context.Context,
	in *structpb.Struct,
	cmd func(ctx context.Context, caller settlement.Address, id settlement.OrderID) error,
) (*structpb.Struct, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := cmd(ctx, interceptors.CallerFromContext(ctx), id); err != nil {
		return nil, toStatus(err)
	}
	return s.currentOrder(ctx, id)
}

func (s *Server) currentOrder(ctx context.Context, id settlement.OrderID) (*structpb.Struct, error) {
	o, err := s.registry.Order(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.order(o)
}

func (s *Server) order(o registry.Order) (*structpb.Struct, error) {
	out, err := orderStruct(o, s.registry.BaseURI())
	if err != nil {
		s.logger.Error("failed to encode order", "order_id", o.ID, "error", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

package coordinator

import (
	"context"
	"fmt"

	"github.com/jcmexdev/dvp-settlement/internal/ledger"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// --- TransferStep ---

// TransferStep moves units between two accounts on the order's ledger,
// spending as the coordinator. Compensation moves them back, which needs the
// recipient's allowance unless the recipient is the coordinator itself.
type TransferStep struct {
	ledger    ledger.Ledger
	spender   settlement.Address
	owner     settlement.Address
	recipient settlement.Address
	units     uint64
	name      string
}

func NewTransferStep(l ledger.Ledger, spender, owner, recipient settlement.Address, units uint64) *TransferStep {
	return &TransferStep{
		ledger:    l,
		spender:   spender,
		owner:     owner,
		recipient: recipient,
		units:     units,
		name:      "Ledger_Transfer_Step",
	}
}

func (s *TransferStep) Name() string { return s.name }

func (s *TransferStep) Execute(ctx context.Context) error {
	if err := s.ledger.TransferFrom(ctx, s.spender, s.owner, s.recipient, s.units); err != nil {
		return fmt.Errorf("ledger transfer of %d units %s -> %s: %w", s.units, s.owner, s.recipient, err)
	}
	return nil
}

func (s *TransferStep) Compensate(ctx context.Context) error {
	return s.ledger.TransferFrom(ctx, s.spender, s.recipient, s.owner, s.units)
}

// --- DeactivateStep ---

// DeactivateStep closes the order in the registry. It is the pivot of every
// settlement that runs it: it goes last and has nothing to compensate.
type DeactivateStep struct {
	registry Registry
	caller   settlement.Address
	orderID  settlement.OrderID
}

func NewDeactivateStep(r Registry, caller settlement.Address, id settlement.OrderID) *DeactivateStep {
	return &DeactivateStep{registry: r, caller: caller, orderID: id}
}

func (s *DeactivateStep) Name() string { return "Registry_Deactivate_Step" }

func (s *DeactivateStep) Execute(ctx context.Context) error {
	return s.registry.Deactivate(ctx, s.caller, s.orderID)
}

func (s *DeactivateStep) Compensate(context.Context) error {
	// A deactivated order never reopens.
	return nil
}

// --- CustodyMarkStep ---

// CustodyMarkStep sets the custody marker of an order. Zero units clear it.
// Compensation restores whatever the marker held before.
type CustodyMarkStep struct {
	coordinator *Coordinator
	orderID     settlement.OrderID
	units       uint64
	prev        uint64
}

func NewCustodyMarkStep(c *Coordinator, id settlement.OrderID, units uint64) *CustodyMarkStep {
	return &CustodyMarkStep{coordinator: c, orderID: id, units: units}
}

func (s *CustodyMarkStep) Name() string { return "Custody_Mark_Step" }

func (s *CustodyMarkStep) Execute(ctx context.Context) error {
	s.prev, _ = s.coordinator.delivered(s.orderID)
	return s.coordinator.setDelivered(ctx, s.orderID, s.units)
}

func (s *CustodyMarkStep) Compensate(ctx context.Context) error {
	return s.coordinator.setDelivered(ctx, s.orderID, s.prev)
}

// --- EmitStep ---

// EmitStep records a coordinator event. Used where the event is the last
// effect of a saga and a failure to record it must undo the earlier steps.
type EmitStep struct {
	emitter settlement.Emitter
	source  settlement.Address
	event   settlement.Event
}

func NewEmitStep(e settlement.Emitter, source settlement.Address, ev settlement.Event) *EmitStep {
	return &EmitStep{emitter: e, source: source, event: ev}
}

func (s *EmitStep) Name() string { return "Emit_" + string(s.event.EventName()) + "_Step" }

func (s *EmitStep) Execute(ctx context.Context) error {
	if err := s.emitter.Emit(ctx, s.source, s.event); err != nil {
		return fmt.Errorf("emit %s: %w", s.event.EventName(), err)
	}
	return nil
}

func (s *EmitStep) Compensate(context.Context) error { return nil }

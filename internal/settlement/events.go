package settlement

import (
	"context"

	"github.com/shopspring/decimal"
)

// EventName identifies an event type in the log.
type EventName string

const (
	EventPaymentInitiated   EventName = "PaymentInitiated"
	EventPaymentConfirmed   EventName = "PaymentConfirmed"
	EventPotDeactivated     EventName = "PotDeactivated"
	EventChangeFinalAmount  EventName = "ChangeFinalAmount"
	EventDeliveryConfirmed  EventName = "DeliveryConfirmed"
	EventDeliveryExecuted   EventName = "DeliveryExecuted"
	EventSettlementCanceled EventName = "SettlementCanceled"
	EventTransfer           EventName = "Transfer"
	EventApproval           EventName = "Approval"
	EventApprovalForAll     EventName = "ApprovalForAll"
	EventPaused             EventName = "Paused"
	EventUnpaused           EventName = "Unpaused"
	EventUpgraded           EventName = "Upgraded"
)

// Event is an immutable notification emitted together with the state change
// it describes.
type Event interface {
	EventName() EventName
	// Order returns the order the event concerns, NoOrder for component-wide events.
	Order() OrderID
}

// Emitter appends events to the log. source is the emitting component's address.
type Emitter interface {
	Emit(ctx context.Context, source Address, ev Event) error
}

// OrderSnapshot is the full payload of the lifecycle events.
type OrderSnapshot struct {
	ID            OrderID         `json:"id"`
	Sender        Address         `json:"sender"`
	Receiver      Address         `json:"receiver"`
	BusinessID    string          `json:"business_id"`
	UnitsRequired uint64          `json:"units_required"`
	AuxDetail     uint64          `json:"aux_detail"`
	AuxAddress    Address         `json:"aux_address,omitempty"`
	LedgerRef     Address         `json:"ledger_ref"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	LocatorURI    string          `json:"locator_uri"`
}

func (s OrderSnapshot) Order() OrderID { return s.ID }

type PaymentInitiated struct{ OrderSnapshot }

func (PaymentInitiated) EventName() EventName { return EventPaymentInitiated }

type PaymentConfirmed struct{ OrderSnapshot }

func (PaymentConfirmed) EventName() EventName { return EventPaymentConfirmed }

type PotDeactivated struct{ OrderSnapshot }

func (PotDeactivated) EventName() EventName { return EventPotDeactivated }

type ChangeFinalAmount struct {
	ID        OrderID         `json:"id"`
	NewAmount decimal.Decimal `json:"new_amount"`
	Currency  string          `json:"currency"`
}

func (ChangeFinalAmount) EventName() EventName { return EventChangeFinalAmount }
func (e ChangeFinalAmount) Order() OrderID     { return e.ID }

type DeliveryConfirmed struct {
	ID        OrderID `json:"id"`
	LedgerRef Address `json:"ledger_ref"`
}

func (DeliveryConfirmed) EventName() EventName { return EventDeliveryConfirmed }
func (e DeliveryConfirmed) Order() OrderID     { return e.ID }

type DeliveryExecuted struct {
	ID        OrderID `json:"id"`
	LedgerRef Address `json:"ledger_ref"`
	Recipient Address `json:"recipient"`
}

func (DeliveryExecuted) EventName() EventName { return EventDeliveryExecuted }
func (e DeliveryExecuted) Order() OrderID     { return e.ID }

type SettlementCanceled struct {
	ID        OrderID `json:"id"`
	LedgerRef Address `json:"ledger_ref"`
	Recipient Address `json:"recipient"`
}

func (SettlementCanceled) EventName() EventName { return EventSettlementCanceled }
func (e SettlementCanceled) Order() OrderID     { return e.ID }

// Transfer records a holder change. From is NoAddress on issuance; To is the
// registry's own address on retirement.
type Transfer struct {
	From Address `json:"from"`
	To   Address `json:"to"`
	ID   OrderID `json:"id"`
}

func (Transfer) EventName() EventName { return EventTransfer }
func (e Transfer) Order() OrderID     { return e.ID }

type Approval struct {
	Holder   Address `json:"holder"`
	Operator Address `json:"operator"`
	ID       OrderID `json:"id"`
}

func (Approval) EventName() EventName { return EventApproval }
func (e Approval) Order() OrderID     { return e.ID }

type ApprovalForAll struct {
	Holder   Address `json:"holder"`
	Operator Address `json:"operator"`
	Approved bool    `json:"approved"`
}

func (ApprovalForAll) EventName() EventName { return EventApprovalForAll }
func (ApprovalForAll) Order() OrderID       { return NoOrder }

type Paused struct {
	Account Address `json:"account"`
}

func (Paused) EventName() EventName { return EventPaused }
func (Paused) Order() OrderID       { return NoOrder }

type Unpaused struct {
	Account Address `json:"account"`
}

func (Unpaused) EventName() EventName { return EventUnpaused }
func (Unpaused) Order() OrderID       { return NoOrder }

type Upgraded struct {
	Version string `json:"version"`
}

func (Upgraded) EventName() EventName { return EventUpgraded }
func (Upgraded) Order() OrderID       { return NoOrder }

// DiscardEmitter drops every event.
type DiscardEmitter struct{}

func (DiscardEmitter) Emit(context.Context, Address, Event) error { return nil }

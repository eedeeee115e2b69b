package registry

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// Order is a payment order record. Every field except Amount, Status,
// Holder and Approved is fixed at issuance.
type Order struct {
	ID            settlement.OrderID
	BusinessID    string
	UnitsRequired uint64
	AuxDetail     uint64
	AuxAddress    settlement.Address
	LedgerRef     settlement.Address
	Currency      string
	Amount        decimal.Decimal
	IssuedAmount  decimal.Decimal
	Sender        settlement.Address
	Receiver      settlement.Address
	Status        settlement.Status
	MintTime      time.Time
	Holder        settlement.Address
	// Approved is the single-order operator, cleared on every transfer.
	Approved settlement.Address
}

// IssueRequest carries the deal parameters of a new order.
type IssueRequest struct {
	Holder        settlement.Address
	ID            settlement.OrderID
	BusinessID    string
	UnitsRequired uint64
	AuxDetail     uint64
	AuxAddress    settlement.Address
	LedgerRef     settlement.Address
	Currency      string
	Amount        decimal.Decimal
	Sender        settlement.Address
	Receiver      settlement.Address
}

// Snapshot is the event payload for o; locatorURI is built from baseURI.
func (o Order) Snapshot(baseURI string) settlement.OrderSnapshot {
	return settlement.OrderSnapshot{
		ID:            o.ID,
		Sender:        o.Sender,
		Receiver:      o.Receiver,
		BusinessID:    o.BusinessID,
		UnitsRequired: o.UnitsRequired,
		AuxDetail:     o.AuxDetail,
		AuxAddress:    o.AuxAddress,
		LedgerRef:     o.LedgerRef,
		Amount:        o.Amount,
		Currency:      o.Currency,
		LocatorURI:    baseURI + string(o.ID),
	}
}

// Active reports whether the order still occupies its business id.
func (o Order) Active() bool { return !o.Status.Terminal() }

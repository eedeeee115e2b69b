// Package ledger defines the fungible-unit ledger capability the coordinator
// consumes, and ships the adapters the service can run against.
//
// The ledger's own accounting is not part of the settlement core: the
// coordinator only ever calls BalanceOf, AllowanceOf and TransferFrom.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// Ledger is the balance/allowance store for transferable settlement units.
type Ledger interface {
	BalanceOf(ctx context.Context, holder settlement.Address) (uint64, error)
	AllowanceOf(ctx context.Context, owner, spender settlement.Address) (uint64, error)
	// TransferFrom moves units from owner to recipient on behalf of spender.
	// A spender moving its own units needs no allowance; otherwise the
	// allowance owner granted spender is consumed.
	TransferFrom(ctx context.Context, spender, owner, recipient settlement.Address, units uint64) error
}

var (
	ErrInsufficientBalance   = fmt.Errorf("ledger: balance too low: %w", settlement.ErrInsufficientFunds)
	ErrInsufficientAllowance = fmt.Errorf("ledger: allowance too low: %w", settlement.ErrInsufficientFunds)
	ErrUnknownLedger         = fmt.Errorf("ledger: unknown ledger: %w", settlement.ErrNotFound)
)

// IsFundsError reports whether err is a ledger refusal rather than a failure
// to reach the ledger.
func IsFundsError(err error) bool {
	return errors.Is(err, settlement.ErrInsufficientFunds)
}

// Resolver maps an order's ledger reference to a client.
type Resolver interface {
	Ledger(ref settlement.Address) (Ledger, error)
}

// Directory is a Resolver backed by a map.
type Directory struct {
	mu      sync.RWMutex
	ledgers map[settlement.Address]Ledger
}

func NewDirectory() *Directory {
	return &Directory{ledgers: make(map[settlement.Address]Ledger)}
}

func (d *Directory) Register(ref settlement.Address, l Ledger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ledgers[ref.Normalize()] = l
}

func (d *Directory) Ledger(ref settlement.Address) (Ledger, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	l, ok := d.ledgers[ref.Normalize()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLedger, ref)
	}
	return l, nil
}

package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// DealDetail is the deal view the coordinator settles against.
type DealDetail struct {
	Status        settlement.Status
	UnitsRequired uint64
	LedgerRef     settlement.Address
	Sender        settlement.Address
	Receiver      settlement.Address
}

func (r *Registry) Order(ctx context.Context, id settlement.OrderID) (Order, error) {
	return r.get(ctx, "order", id)
}

func (r *Registry) Status(ctx context.Context, id settlement.OrderID) (settlement.Status, error) {
	o, err := r.get(ctx, "status", id)
	if err != nil {
		return 0, err
	}
	return o.Status, nil
}

// FinalAmount returns the current amount and its currency.
func (r *Registry) FinalAmount(ctx context.Context, id settlement.OrderID) (decimal.Decimal, string, error) {
	o, err := r.get(ctx, "final amount", id)
	if err != nil {
		return decimal.Zero, "", err
	}
	return o.Amount, o.Currency, nil
}

func (r *Registry) MintTime(ctx context.Context, id settlement.OrderID) (time.Time, error) {
	o, err := r.get(ctx, "mint time", id)
	if err != nil {
		return time.Time{}, err
	}
	return o.MintTime, nil
}

func (r *Registry) DealDetail(ctx context.Context, id settlement.OrderID) (DealDetail, error) {
	o, err := r.get(ctx, "deal detail", id)
	if err != nil {
		return DealDetail{}, err
	}
	return DealDetail{
		Status:        o.Status,
		UnitsRequired: o.UnitsRequired,
		LedgerRef:     o.LedgerRef,
		Sender:        o.Sender,
		Receiver:      o.Receiver,
	}, nil
}

func (r *Registry) HolderOf(ctx context.Context, id settlement.OrderID) (settlement.Address, error) {
	o, err := r.get(ctx, "holder", id)
	if err != nil {
		return settlement.NoAddress, err
	}
	return o.Holder, nil
}

func (r *Registry) TokenURI(ctx context.Context, id settlement.OrderID) (string, error) {
	if _, err := r.get(ctx, "token uri", id); err != nil {
		return "", err
	}
	return r.cfg.BaseURI + string(id), nil
}

// TokenIDByBusinessID returns the order most recently issued under
// businessID, or NoOrder.
func (r *Registry) TokenIDByBusinessID(ctx context.Context, businessID string) (settlement.OrderID, error) {
	id, err := r.store.ByBusinessID(ctx, businessID)
	if err != nil {
		return settlement.NoOrder, fmt.Errorf("registry: by business id: %w", err)
	}
	return id, nil
}

// TokenIDsByOwner lists the orders held by owner in acquisition order. The
// result is never nil.
func (r *Registry) TokenIDsByOwner(ctx context.Context, owner settlement.Address) ([]settlement.OrderID, error) {
	ids, err := r.store.ByHolder(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("registry: by owner: %w", err)
	}
	if ids == nil {
		ids = []settlement.OrderID{}
	}
	return ids, nil
}

// CanOperate reports whether caller is the holder of id or approved for it.
func (r *Registry) CanOperate(ctx context.Context, id settlement.OrderID, caller settlement.Address) (bool, error) {
	o, err := r.get(ctx, "can operate", id)
	if err != nil {
		return false, err
	}
	return r.canOperate(ctx, o, caller)
}

func (r *Registry) Paused(ctx context.Context) (bool, error) {
	st, err := r.store.LoadState(ctx)
	if err != nil {
		return false, fmt.Errorf("registry: paused: %w", err)
	}
	return st.Paused, nil
}

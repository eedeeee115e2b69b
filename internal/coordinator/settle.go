package coordinator

import (
	"context"
	"fmt"

	"github.com/jcmexdev/dvp-settlement/internal/ledger"
	"github.com/jcmexdev/dvp-settlement/internal/registry"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// deal is everything a settlement flow reads before its first step.
type deal struct {
	id       settlement.OrderID
	detail   registry.DealDetail
	registry Registry
	ledger   ledger.Ledger
}

func (c *Coordinator) loadDeal(ctx context.Context, id settlement.OrderID, want settlement.Status) (deal, error) {
	reg, err := c.registry()
	if err != nil {
		return deal{}, err
	}
	detail, err := reg.DealDetail(ctx, id)
	if err != nil {
		return deal{}, err
	}
	if detail.Status != want {
		return deal{}, &settlement.StatusError{ID: id, Want: want, Actual: detail.Status}
	}

	holder, err := reg.HolderOf(ctx, id)
	if err != nil {
		return deal{}, err
	}
	if !holder.Equal(c.cfg.Address) {
		return deal{}, &settlement.CustodyError{ID: id}
	}

	l, err := c.ledgers.Ledger(detail.LedgerRef)
	if err != nil {
		return deal{}, err
	}
	return deal{id: id, detail: detail, registry: reg, ledger: l}, nil
}

// requireRegistryOpen fails before any funds move if the pivot would be
// refused by a paused registry.
func (d deal) requireRegistryOpen(ctx context.Context) error {
	paused, err := d.registry.Paused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return fmt.Errorf("registry: %w", settlement.ErrPaused)
	}
	return nil
}

func (c *Coordinator) requireCustody(ctx context.Context, d deal) error {
	balance, err := d.ledger.BalanceOf(ctx, c.cfg.Address)
	if err != nil {
		return err
	}
	if balance < d.detail.UnitsRequired {
		return &settlement.InsufficientFundsError{
			ID:       d.id,
			Resource: settlement.ResourceCustodyBalance,
			Observed: balance,
			Required: d.detail.UnitsRequired,
		}
	}
	return nil
}

func (D2) CheckDeliveryForPot(ctx context.Context, c *Coordinator, id settlement.OrderID) error {
	d, err := c.loadDeal(ctx, id, settlement.StatusIssued)
	if err != nil {
		return err
	}
	if held, ok := c.delivered(id); ok {
		return &settlement.DeliveredError{ID: id, Units: held}
	}
	units := d.detail.UnitsRequired

	allowance, err := d.ledger.AllowanceOf(ctx, d.detail.Receiver, c.cfg.Address)
	if err != nil {
		return err
	}
	if allowance < units {
		return &settlement.InsufficientFundsError{
			ID: id, Resource: settlement.ResourceAllowance, Observed: allowance, Required: units,
		}
	}
	balance, err := d.ledger.BalanceOf(ctx, d.detail.Receiver)
	if err != nil {
		return err
	}
	if balance < units {
		return &settlement.InsufficientFundsError{
			ID: id, Resource: settlement.ResourceReceiverBalance, Observed: balance, Required: units,
		}
	}

	// The pull is compensated by an own transfer back to the receiver, so a
	// failure to record DeliveryConfirmed leaves both balances unchanged.
	return NewOrchestrator(c.logger,
		NewTransferStep(d.ledger, c.cfg.Address, d.detail.Receiver, c.cfg.Address, units),
		NewCustodyMarkStep(c, id, units),
		NewEmitStep(c.emitter, c.cfg.Address, settlement.DeliveryConfirmed{ID: id, LedgerRef: d.detail.LedgerRef}),
	).Start(ctx)
}

func (D2) ExecuteDelivery(ctx context.Context, c *Coordinator, id settlement.OrderID) error {
	d, err := c.loadDeal(ctx, id, settlement.StatusPaymentConfirmed)
	if err != nil {
		return err
	}
	return c.release(ctx, d, d.detail.Sender,
		settlement.DeliveryExecuted{ID: id, LedgerRef: d.detail.LedgerRef, Recipient: d.detail.Sender})
}

func (D2) CancelSettlement(ctx context.Context, c *Coordinator, id settlement.OrderID) error {
	d, err := c.loadDeal(ctx, id, settlement.StatusPaymentInitiated)
	if err != nil {
		return err
	}
	return c.release(ctx, d, d.detail.Receiver,
		settlement.SettlementCanceled{ID: id, LedgerRef: d.detail.LedgerRef, Recipient: d.detail.Receiver})
}

func (D2) DeactivateOldPot(ctx context.Context, c *Coordinator, id settlement.OrderID) error {
	d, err := c.loadDeal(ctx, id, settlement.StatusIssued)
	if err != nil {
		return err
	}
	minted, err := d.registry.MintTime(ctx, id)
	if err != nil {
		return err
	}
	if age := c.now().Sub(minted); age < c.cfg.StaleAfter {
		return &settlement.StalenessError{ID: id, Window: c.cfg.StaleAfter, Age: age}
	}
	// Units pulled for an order that never reached payment go back to the
	// receiver before it closes.
	if _, ok := c.delivered(id); ok {
		return c.release(ctx, d, d.detail.Receiver,
			settlement.SettlementCanceled{ID: id, LedgerRef: d.detail.LedgerRef, Recipient: d.detail.Receiver})
	}
	if err := d.requireRegistryOpen(ctx); err != nil {
		return err
	}

	return NewOrchestrator(c.logger, NewDeactivateStep(d.registry, c.cfg.Address, id)).Start(ctx)
}

// release moves the custodied units to recipient, deactivates the order and
// records ev. ev is emitted after the pivot: once the order is deactivated
// the settlement stands even if the event cannot be recorded.
func (c *Coordinator) release(ctx context.Context, d deal, recipient settlement.Address, ev settlement.Event) error {
	if err := c.requireCustody(ctx, d); err != nil {
		return err
	}
	if err := d.requireRegistryOpen(ctx); err != nil {
		return err
	}

	err := NewOrchestrator(c.logger,
		NewTransferStep(d.ledger, c.cfg.Address, c.cfg.Address, recipient, d.detail.UnitsRequired),
		NewCustodyMarkStep(c, d.id, 0),
		NewDeactivateStep(d.registry, c.cfg.Address, d.id),
	).Start(ctx)
	if err != nil {
		return err
	}

	if err := c.emitter.Emit(ctx, c.cfg.Address, ev); err != nil {
		c.logger.ErrorContext(ctx, "CRITICAL: settlement committed but event not recorded",
			"order_id", d.id, "event", ev.EventName(), "error", err)
		return fmt.Errorf("settlement of %q committed, emit %s: %w", d.id, ev.EventName(), err)
	}
	return nil
}

// Package registry owns the payment orders and their state machine.
//
// Every mutation runs under the registry lock, checks its preconditions,
// commits through a status compare-and-swap in the Store and then emits its
// event. If the event cannot be recorded the record change is undone, so an
// observer never sees a state change without its event.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// Config names the registry and its privileged identity.
type Config struct {
	// Address is the registry's own custody address. Transferring an order
	// to it retires the order.
	Address settlement.Address
	Admin   settlement.Address
	Name    string
	Symbol  string
	// BaseURI prefixes the order id to form its locator URI.
	BaseURI string
}

type Option func(*Registry)

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides the time source used for mint times.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

type Registry struct {
	mu      sync.Mutex
	cfg     Config
	store   Store
	emitter settlement.Emitter
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg Config, store Store, emitter settlement.Emitter, opts ...Option) *Registry {
	if emitter == nil {
		emitter = settlement.DiscardEmitter{}
	}
	r := &Registry{
		cfg:     cfg,
		store:   store,
		emitter: emitter,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Address() settlement.Address { return r.cfg.Address }
func (r *Registry) Admin() settlement.Address   { return r.cfg.Admin }
func (r *Registry) Name() string                { return r.cfg.Name }
func (r *Registry) Symbol() string              { return r.cfg.Symbol }
func (r *Registry) BaseURI() string             { return r.cfg.BaseURI }

// Issue creates an order in status Issued held by req.Holder. Admin only.
func (r *Registry) Issue(ctx context.Context, caller settlement.Address, req IssueRequest) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "issue"
	if err := r.requireAdmin(op, caller); err != nil {
		return Order{}, err
	}
	if err := r.requireUnpaused(ctx, op); err != nil {
		return Order{}, err
	}
	if req.ID == settlement.NoOrder {
		return Order{}, fmt.Errorf("registry: issue: empty order id: %w", settlement.ErrInvalid)
	}
	if req.Holder.IsZero() {
		return Order{}, fmt.Errorf("registry: issue %q: empty holder: %w", req.ID, settlement.ErrInvalid)
	}
	if req.Amount.IsNegative() {
		return Order{}, fmt.Errorf("registry: issue %q: negative amount %s: %w", req.ID, req.Amount, settlement.ErrRange)
	}

	used, err := r.store.Used(ctx, req.ID)
	if err != nil {
		return Order{}, fmt.Errorf("registry: issue %q: %w", req.ID, err)
	}
	if used {
		return Order{}, fmt.Errorf("registry: issue: order %q already issued: %w", req.ID, settlement.ErrDuplicate)
	}

	prevBusiness := settlement.NoOrder
	if req.BusinessID != "" {
		prevBusiness, err = r.store.ByBusinessID(ctx, req.BusinessID)
		if err != nil {
			return Order{}, fmt.Errorf("registry: issue %q: %w", req.ID, err)
		}
		if prevBusiness != settlement.NoOrder {
			prev, err := r.store.Get(ctx, prevBusiness)
			if err != nil && !errors.Is(err, settlement.ErrNotFound) {
				return Order{}, fmt.Errorf("registry: issue %q: %w", req.ID, err)
			}
			if err == nil && prev.Active() {
				return Order{}, fmt.Errorf("registry: issue %q: business id %q held by active order %q: %w",
					req.ID, req.BusinessID, prevBusiness, settlement.ErrDuplicate)
			}
		}
	}

	o := Order{
		ID:            req.ID,
		BusinessID:    req.BusinessID,
		UnitsRequired: req.UnitsRequired,
		AuxDetail:     req.AuxDetail,
		AuxAddress:    req.AuxAddress,
		LedgerRef:     req.LedgerRef,
		Currency:      req.Currency,
		Amount:        req.Amount,
		IssuedAmount:  req.Amount,
		Sender:        req.Sender,
		Receiver:      req.Receiver,
		Status:        settlement.StatusIssued,
		MintTime:      r.now().UTC(),
		Holder:        req.Holder,
	}

	if err := r.store.Insert(ctx, o); err != nil {
		return Order{}, fmt.Errorf("registry: issue %q: %w", o.ID, err)
	}
	if err := r.emit(ctx, settlement.Transfer{From: settlement.NoAddress, To: o.Holder, ID: o.ID}); err != nil {
		if dErr := r.store.Discard(ctx, o.ID, prevBusiness); dErr != nil {
			r.logger.ErrorContext(ctx, "CRITICAL: failed to discard order after emit failure",
				"order_id", o.ID, "emit_error", err, "discard_error", dErr)
			return Order{}, errors.Join(err, dErr)
		}
		return Order{}, err
	}

	r.logger.InfoContext(ctx, "payment order issued", "order_id", o.ID, "holder", o.Holder, "business_id", o.BusinessID)
	return o, nil
}

// InitiatePayment moves an order from Issued to PaymentInitiated. Holder or
// approved operator only.
func (r *Registry) InitiatePayment(ctx context.Context, caller settlement.Address, id settlement.OrderID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "initiate payment"
	if err := r.requireUnpaused(ctx, op); err != nil {
		return err
	}
	o, err := r.get(ctx, op, id)
	if err != nil {
		return err
	}
	if err := r.requireOperator(ctx, op, o, caller); err != nil {
		return err
	}
	if o.Status != settlement.StatusIssued {
		return r.statusErr(op, o, settlement.StatusIssued)
	}

	next := o
	next.Status = settlement.StatusPaymentInitiated
	return r.commit(ctx, op, o, next, settlement.PaymentInitiated{OrderSnapshot: next.Snapshot(r.cfg.BaseURI)})
}

// ConfirmPayment moves an order from PaymentInitiated to PaymentConfirmed.
// Admin only; it records the off-system payment confirmation.
func (r *Registry) ConfirmPayment(ctx context.Context, caller settlement.Address, id settlement.OrderID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "confirm payment"
	if err := r.requireAdmin(op, caller); err != nil {
		return err
	}
	if err := r.requireUnpaused(ctx, op); err != nil {
		return err
	}
	o, err := r.get(ctx, op, id)
	if err != nil {
		return err
	}
	if o.Status != settlement.StatusPaymentInitiated {
		return r.statusErr(op, o, settlement.StatusPaymentInitiated)
	}

	next := o
	next.Status = settlement.StatusPaymentConfirmed
	return r.commit(ctx, op, o, next, settlement.PaymentConfirmed{OrderSnapshot: next.Snapshot(r.cfg.BaseURI)})
}

// Deactivate moves a non-terminal order to Deactivated. Holder or approved
// operator only.
func (r *Registry) Deactivate(ctx context.Context, caller settlement.Address, id settlement.OrderID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "deactivate"
	if err := r.requireUnpaused(ctx, op); err != nil {
		return err
	}
	o, err := r.get(ctx, op, id)
	if err != nil {
		return err
	}
	if err := r.requireOperator(ctx, op, o, caller); err != nil {
		return err
	}
	if o.Status.Terminal() {
		return fmt.Errorf("registry: %s: %w", op,
			&settlement.StatusError{ID: id, Want: settlement.StatusDeactivated, Actual: o.Status, Negated: true})
	}

	next := o
	next.Status = settlement.StatusDeactivated
	return r.commit(ctx, op, o, next, settlement.PotDeactivated{OrderSnapshot: next.Snapshot(r.cfg.BaseURI)})
}

// ChangeAmount amends the order amount. Receiver only;
// 0 <= newAmount <= amount at issuance.
func (r *Registry) ChangeAmount(ctx context.Context, caller settlement.Address, id settlement.OrderID, newAmount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "change amount"
	if err := r.requireUnpaused(ctx, op); err != nil {
		return err
	}
	o, err := r.get(ctx, op, id)
	if err != nil {
		return err
	}
	if !caller.Equal(o.Receiver) {
		return &settlement.AuthorizationError{Op: "registry: " + op, Caller: caller, Role: settlement.RoleReceiver}
	}
	if o.Status.Terminal() {
		return fmt.Errorf("registry: %s: %w", op,
			&settlement.StatusError{ID: id, Want: settlement.StatusDeactivated, Actual: o.Status, Negated: true})
	}
	if newAmount.IsNegative() || newAmount.GreaterThan(o.IssuedAmount) {
		return fmt.Errorf("registry: %s %q: %s outside [0, %s]: %w", op, id, newAmount, o.IssuedAmount, settlement.ErrRange)
	}

	next := o
	next.Amount = newAmount
	return r.commit(ctx, op, o, next, settlement.ChangeFinalAmount{ID: id, NewAmount: newAmount, Currency: o.Currency})
}

// Transfer hands the order from its holder to another address. A transfer
// to the registry's own address retires the order.
func (r *Registry) Transfer(ctx context.Context, caller, from, to settlement.Address, id settlement.OrderID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "transfer"
	if err := r.requireUnpaused(ctx, op); err != nil {
		return err
	}
	o, err := r.get(ctx, op, id)
	if err != nil {
		return err
	}
	if err := r.requireOperator(ctx, op, o, caller); err != nil {
		return err
	}
	if !from.Equal(o.Holder) {
		return fmt.Errorf("registry: %s %q: %q is not the holder: %w", op, id, from, settlement.ErrInvalid)
	}
	if to.IsZero() {
		return fmt.Errorf("registry: %s %q: empty recipient: %w", op, id, settlement.ErrInvalid)
	}

	ev := settlement.Transfer{From: o.Holder, To: to, ID: id}

	if to.Equal(r.cfg.Address) {
		return r.retire(ctx, o, ev)
	}

	next := o
	next.Holder = to
	next.Approved = settlement.NoAddress
	return r.commit(ctx, op, o, next, ev)
}

// Retire burns the order by transferring it into the registry's custody.
func (r *Registry) Retire(ctx context.Context, caller settlement.Address, id settlement.OrderID) error {
	holder, err := r.HolderOf(ctx, id)
	if err != nil {
		return err
	}
	return r.Transfer(ctx, caller, holder, r.cfg.Address, id)
}

// Approve lets operator act on a single order until its next transfer.
func (r *Registry) Approve(ctx context.Context, caller settlement.Address, id settlement.OrderID, operator settlement.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "approve"
	if err := r.requireUnpaused(ctx, op); err != nil {
		return err
	}
	o, err := r.get(ctx, op, id)
	if err != nil {
		return err
	}
	isOp, err := r.store.IsOperator(ctx, o.Holder, caller)
	if err != nil {
		return fmt.Errorf("registry: %s %q: %w", op, id, err)
	}
	if !caller.Equal(o.Holder) && !isOp {
		return &settlement.AuthorizationError{Op: "registry: " + op, Caller: caller, Role: settlement.RoleHolder}
	}

	next := o
	next.Approved = operator
	return r.commit(ctx, op, o, next, settlement.Approval{Holder: o.Holder, Operator: operator, ID: id})
}

// SetApprovalForAll lets operator act on every order caller holds.
func (r *Registry) SetApprovalForAll(ctx context.Context, caller, operator settlement.Address, approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "set approval for all"
	if err := r.requireUnpaused(ctx, op); err != nil {
		return err
	}
	if caller.Equal(operator) {
		return fmt.Errorf("registry: %s: caller approving itself: %w", op, settlement.ErrInvalid)
	}

	wasApproved, err := r.store.IsOperator(ctx, caller, operator)
	if err != nil {
		return fmt.Errorf("registry: %s: %w", op, err)
	}
	if err := r.store.SetOperator(ctx, caller, operator, approved); err != nil {
		return fmt.Errorf("registry: %s: %w", op, err)
	}
	if err := r.emit(ctx, settlement.ApprovalForAll{Holder: caller, Operator: operator, Approved: approved}); err != nil {
		if rbErr := r.store.SetOperator(ctx, caller, operator, wasApproved); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return nil
}

// Pause stops every mutating operation until Unpause. Admin only.
func (r *Registry) Pause(ctx context.Context, caller settlement.Address) error {
	return r.setPaused(ctx, caller, true)
}

func (r *Registry) Unpause(ctx context.Context, caller settlement.Address) error {
	return r.setPaused(ctx, caller, false)
}

func (r *Registry) setPaused(ctx context.Context, caller settlement.Address, paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := "unpause"
	var ev settlement.Event = settlement.Unpaused{Account: caller}
	if paused {
		op = "pause"
		ev = settlement.Paused{Account: caller}
	}
	if err := r.requireAdmin(op, caller); err != nil {
		return err
	}

	st, err := r.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("registry: %s: %w", op, err)
	}
	if st.Paused == paused {
		if paused {
			return fmt.Errorf("registry: %s: %w", op, settlement.ErrPaused)
		}
		return fmt.Errorf("registry: %s: not paused: %w", op, settlement.ErrState)
	}

	prev := st
	st.Paused = paused
	if err := r.store.SaveState(ctx, st); err != nil {
		return fmt.Errorf("registry: %s: %w", op, err)
	}
	if err := r.emit(ctx, ev); err != nil {
		if rbErr := r.store.SaveState(ctx, prev); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	r.logger.InfoContext(ctx, "registry pause state changed", "paused", paused, "by", caller)
	return nil
}

func (r *Registry) retire(ctx context.Context, o Order, ev settlement.Transfer) error {
	if err := r.store.Delete(ctx, o.ID); err != nil {
		return fmt.Errorf("registry: retire %q: %w", o.ID, err)
	}
	if err := r.emit(ctx, ev); err != nil {
		if rbErr := r.store.Insert(ctx, o); rbErr != nil {
			r.logger.ErrorContext(ctx, "CRITICAL: failed to restore order after emit failure",
				"order_id", o.ID, "emit_error", err, "restore_error", rbErr)
			return errors.Join(err, rbErr)
		}
		return err
	}
	r.logger.InfoContext(ctx, "payment order retired", "order_id", o.ID)
	return nil
}

// commit swaps prev for next in the store and emits ev; on emit failure the
// record is swapped back.
func (r *Registry) commit(ctx context.Context, op string, prev, next Order, ev settlement.Event) error {
	if err := r.store.Update(ctx, prev.Status, next); err != nil {
		return fmt.Errorf("registry: %s %q: %w", op, next.ID, err)
	}
	if err := r.emit(ctx, ev); err != nil {
		if rbErr := r.store.Update(ctx, next.Status, prev); rbErr != nil {
			r.logger.ErrorContext(ctx, "CRITICAL: failed to roll back order after emit failure",
				"order_id", next.ID, "op", op, "emit_error", err, "rollback_error", rbErr)
			return errors.Join(err, rbErr)
		}
		return err
	}

	if prev.Status != next.Status {
		r.logger.InfoContext(ctx, "payment order transitioned",
			"order_id", next.ID, "from", prev.Status.String(), "to", next.Status.String())
	}
	return nil
}

func (r *Registry) emit(ctx context.Context, ev settlement.Event) error {
	if err := r.emitter.Emit(ctx, r.cfg.Address, ev); err != nil {
		return fmt.Errorf("registry: emit %s: %w", ev.EventName(), err)
	}
	return nil
}

func (r *Registry) get(ctx context.Context, op string, id settlement.OrderID) (Order, error) {
	o, err := r.store.Get(ctx, id)
	if err != nil {
		return Order{}, fmt.Errorf("registry: %s: %w", op, err)
	}
	return o, nil
}

func (r *Registry) requireAdmin(op string, caller settlement.Address) error {
	if !caller.Equal(r.cfg.Admin) {
		return &settlement.AuthorizationError{Op: "registry: " + op, Caller: caller, Role: settlement.RoleAdmin}
	}
	return nil
}

func (r *Registry) requireUnpaused(ctx context.Context, op string) error {
	st, err := r.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("registry: %s: %w", op, err)
	}
	if st.Paused {
		return fmt.Errorf("registry: %s: %w", op, settlement.ErrPaused)
	}
	return nil
}

func (r *Registry) requireOperator(ctx context.Context, op string, o Order, caller settlement.Address) error {
	ok, err := r.canOperate(ctx, o, caller)
	if err != nil {
		return fmt.Errorf("registry: %s %q: %w", op, o.ID, err)
	}
	if !ok {
		return &settlement.AuthorizationError{Op: "registry: " + op, Caller: caller, Role: settlement.RoleHolder}
	}
	return nil
}

func (r *Registry) canOperate(ctx context.Context, o Order, caller settlement.Address) (bool, error) {
	if caller.IsZero() {
		return false, nil
	}
	if caller.Equal(o.Holder) || caller.Equal(o.Approved) {
		return true, nil
	}
	return r.store.IsOperator(ctx, o.Holder, caller)
}

func (r *Registry) statusErr(op string, o Order, want settlement.Status) error {
	return fmt.Errorf("registry: %s: %w", op, &settlement.StatusError{ID: o.ID, Want: want, Actual: o.Status})
}

// Package coordinator implements the settlement coordinator: it moves
// fungible units on an order's ledger only when the payment order in the
// registry is in the right state, and drives the order to its terminal
// state once the units have moved.
//
// Each settlement runs as a saga. Every precondition is checked first, the
// ledger transfer is the compensable step and the registry deactivation is
// the pivot that runs last.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jcmexdev/dvp-settlement/internal/ledger"
	"github.com/jcmexdev/dvp-settlement/internal/registry"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// DefaultStaleAfter is how long an order must sit in Issued before
// DeactivateOldPot may retire it.
const DefaultStaleAfter = 96 * time.Hour

// Registry is the part of the payment-order registry the coordinator uses.
type Registry interface {
	DealDetail(ctx context.Context, id settlement.OrderID) (registry.DealDetail, error)
	HolderOf(ctx context.Context, id settlement.OrderID) (settlement.Address, error)
	MintTime(ctx context.Context, id settlement.OrderID) (time.Time, error)
	Paused(ctx context.Context) (bool, error)
	Deactivate(ctx context.Context, caller settlement.Address, id settlement.OrderID) error
	SetApprovalForAll(ctx context.Context, caller, operator settlement.Address, approved bool) error
}

var _ Registry = (*registry.Registry)(nil)

// RegistryResolver maps the persisted registry reference to a client.
type RegistryResolver interface {
	Registry(ref settlement.Address) (Registry, error)
}

// RegistryDirectory is a RegistryResolver backed by a map.
type RegistryDirectory struct {
	mu   sync.RWMutex
	regs map[settlement.Address]Registry
}

func NewRegistryDirectory() *RegistryDirectory {
	return &RegistryDirectory{regs: make(map[settlement.Address]Registry)}
}

func (d *RegistryDirectory) Register(ref settlement.Address, r Registry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[ref.Normalize()] = r
}

func (d *RegistryDirectory) Registry(ref settlement.Address) (Registry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.regs[ref.Normalize()]
	if !ok {
		return nil, fmt.Errorf("coordinator: unknown registry %q: %w", ref, settlement.ErrNotFound)
	}
	return r, nil
}

type Config struct {
	// Address is the coordinator's custody account on every ledger.
	Address settlement.Address
	// Admin seeds State.Admin on first start.
	Admin settlement.Address
	// StaleAfter defaults to DefaultStaleAfter.
	StaleAfter time.Duration
}

type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

type Coordinator struct {
	cfg        Config
	states     StateStore
	registries RegistryResolver
	ledgers    ledger.Resolver
	emitter    settlement.Emitter
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.RWMutex
	state State
	logic Logic

	inflightMu sync.Mutex
	inflight   map[settlement.OrderID]struct{}
}

// New loads the persisted state and selects the Logic it is tagged with.
func New(
	ctx context.Context,
	cfg Config,
	states StateStore,
	registries RegistryResolver,
	ledgers ledger.Resolver,
	emitter settlement.Emitter,
	opts ...Option,
) (*Coordinator, error) {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if emitter == nil {
		emitter = settlement.DiscardEmitter{}
	}
	c := &Coordinator{
		cfg:        cfg,
		states:     states,
		registries: registries,
		ledgers:    ledgers,
		emitter:    emitter,
		logger:     slog.Default(),
		now:        time.Now,
		inflight:   make(map[settlement.OrderID]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	st, err := states.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: load state: %w", err)
	}
	if st.Admin.IsZero() || st.VersionTag == "" {
		if st.Admin.IsZero() {
			st.Admin = cfg.Admin
		}
		if st.VersionTag == "" {
			st.VersionTag = VersionD2
		}
		if err := states.Save(ctx, st); err != nil {
			return nil, fmt.Errorf("coordinator: seed state: %w", err)
		}
	}

	logic, err := LogicFor(st.VersionTag)
	if err != nil {
		return nil, err
	}
	c.state = st
	c.logic = logic
	return c, nil
}

func (c *Coordinator) Address() settlement.Address { return c.cfg.Address }

func (c *Coordinator) Admin() settlement.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Admin
}

func (c *Coordinator) RegistryRef() settlement.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.RegistryRef
}

func (c *Coordinator) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Paused
}

func (c *Coordinator) Version() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.VersionTag
}

func (c *Coordinator) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Initialized
}

// FixFunction is only served by the UPGRADED logic.
func (c *Coordinator) FixFunction() (string, error) {
	c.mu.RLock()
	logic := c.logic
	c.mu.RUnlock()
	return logic.FixFunction()
}

// Initialize binds the coordinator to its registry and makes the admin an
// operator of every order the coordinator holds there. It succeeds once.
func (c *Coordinator) Initialize(ctx context.Context, caller, registryRef settlement.Address) error {
	return c.mutateState(ctx, "initialize", caller, func(st *State) (settlement.Event, error) {
		if st.Initialized {
			return nil, fmt.Errorf("coordinator: initialize: %w", settlement.ErrAlreadyInitialized)
		}
		if registryRef.IsZero() {
			return nil, fmt.Errorf("coordinator: initialize: empty registry reference: %w", settlement.ErrInvalid)
		}
		if err := c.authorizeAdmin(ctx, registryRef, st.Admin); err != nil {
			return nil, fmt.Errorf("coordinator: initialize: %w", err)
		}
		st.Initialized = true
		st.RegistryRef = registryRef
		return nil, nil
	})
}

func (c *Coordinator) SetRegistryRef(ctx context.Context, caller, ref settlement.Address) error {
	return c.mutateState(ctx, "set registry", caller, func(st *State) (settlement.Event, error) {
		if ref.IsZero() {
			return nil, fmt.Errorf("coordinator: set registry: empty reference: %w", settlement.ErrInvalid)
		}
		if err := c.authorizeAdmin(ctx, ref, st.Admin); err != nil {
			return nil, fmt.Errorf("coordinator: set registry: %w", err)
		}
		st.RegistryRef = ref
		return nil, nil
	})
}

func (c *Coordinator) Pause(ctx context.Context, caller settlement.Address) error {
	return c.mutateState(ctx, "pause", caller, func(st *State) (settlement.Event, error) {
		if st.Paused {
			return nil, fmt.Errorf("coordinator: pause: %w", settlement.ErrPaused)
		}
		st.Paused = true
		return settlement.Paused{Account: caller}, nil
	})
}

func (c *Coordinator) Unpause(ctx context.Context, caller settlement.Address) error {
	return c.mutateState(ctx, "unpause", caller, func(st *State) (settlement.Event, error) {
		if !st.Paused {
			return nil, fmt.Errorf("coordinator: unpause: not paused: %w", settlement.ErrState)
		}
		st.Paused = false
		return settlement.Unpaused{Account: caller}, nil
	})
}

// Upgrade replaces the settlement logic. Only the version tag in State changes.
func (c *Coordinator) Upgrade(ctx context.Context, caller settlement.Address, next Logic) error {
	if next == nil {
		return fmt.Errorf("coordinator: upgrade: nil logic: %w", settlement.ErrInvalid)
	}
	err := c.mutateState(ctx, "upgrade", caller, func(st *State) (settlement.Event, error) {
		st.VersionTag = next.Version()
		return settlement.Upgraded{Version: next.Version()}, nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.logic = next
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "coordinator logic upgraded", "version", next.Version())
	return nil
}

// CheckDeliveryForPot pulls the order's units from the receiver into the
// coordinator's custody. Any caller may trigger it.
func (c *Coordinator) CheckDeliveryForPot(ctx context.Context, caller settlement.Address, id settlement.OrderID) error {
	return c.settle(ctx, "check delivery", caller, id, false, Logic.CheckDeliveryForPot)
}

// ExecuteDelivery releases the custodied units to the sender and closes the order.
func (c *Coordinator) ExecuteDelivery(ctx context.Context, caller settlement.Address, id settlement.OrderID) error {
	return c.settle(ctx, "execute delivery", caller, id, true, Logic.ExecuteDelivery)
}

// CancelSettlement returns the custodied units to the receiver and closes the order.
func (c *Coordinator) CancelSettlement(ctx context.Context, caller settlement.Address, id settlement.OrderID) error {
	return c.settle(ctx, "cancel settlement", caller, id, true, Logic.CancelSettlement)
}

// DeactivateOldPot closes an order left in Issued past the staleness window.
func (c *Coordinator) DeactivateOldPot(ctx context.Context, caller settlement.Address, id settlement.OrderID) error {
	return c.settle(ctx, "deactivate old pot", caller, id, true, Logic.DeactivateOldPot)
}

type settleFunc func(Logic, context.Context, *Coordinator, settlement.OrderID) error

func (c *Coordinator) settle(
	ctx context.Context,
	op string,
	caller settlement.Address,
	id settlement.OrderID,
	adminOnly bool,
	run settleFunc,
) error {
	c.mu.RLock()
	st, logic := c.state, c.logic
	c.mu.RUnlock()

	if adminOnly && !caller.Equal(st.Admin) {
		return &settlement.AuthorizationError{Op: "coordinator: " + op, Caller: caller, Role: settlement.RoleAdmin}
	}
	if st.Paused {
		return fmt.Errorf("coordinator: %s: %w", op, settlement.ErrPaused)
	}

	if err := c.begin(id); err != nil {
		return fmt.Errorf("coordinator: %s: %w", op, err)
	}
	defer c.end(id)

	if err := run(logic, ctx, c, id); err != nil {
		return fmt.Errorf("coordinator: %s: %w", op, err)
	}
	c.logger.InfoContext(ctx, "settlement step completed", "op", op, "order_id", id, "by", caller)
	return nil
}

// begin claims id for one settlement call. A second claim fails until end.
func (c *Coordinator) begin(id settlement.OrderID) error {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()

	if _, busy := c.inflight[id]; busy {
		return &settlement.InProgressError{ID: id}
	}
	c.inflight[id] = struct{}{}
	return nil
}

func (c *Coordinator) end(id settlement.OrderID) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	delete(c.inflight, id)
}

// mutateState applies fn to a copy of the state under the admin check,
// persists it and emits fn's event. A failed emission restores the
// previous state.
func (c *Coordinator) mutateState(
	ctx context.Context,
	op string,
	caller settlement.Address,
	fn func(st *State) (settlement.Event, error),
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !caller.Equal(c.state.Admin) {
		return &settlement.AuthorizationError{Op: "coordinator: " + op, Caller: caller, Role: settlement.RoleAdmin}
	}

	prev := c.state
	next := c.state.clone()
	ev, err := fn(&next)
	if err != nil {
		return err
	}
	if err := c.states.Save(ctx, next); err != nil {
		return fmt.Errorf("coordinator: %s: save state: %w", op, err)
	}
	if ev != nil {
		if err := c.emitter.Emit(ctx, c.cfg.Address, ev); err != nil {
			err = fmt.Errorf("coordinator: %s: emit %s: %w", op, ev.EventName(), err)
			if rbErr := c.states.Save(ctx, prev); rbErr != nil {
				c.logger.ErrorContext(ctx, "CRITICAL: failed to restore coordinator state",
					"op", op, "emit_error", err, "restore_error", rbErr)
				return errors.Join(err, rbErr)
			}
			return err
		}
	}
	c.state = next
	return nil
}

// authorizeAdmin approves admin as operator for all orders the coordinator
// holds in the registry at ref. Initiating payment on an order in custody
// needs it.
func (c *Coordinator) authorizeAdmin(ctx context.Context, ref, admin settlement.Address) error {
	if admin.Equal(c.cfg.Address) {
		return nil
	}
	reg, err := c.registries.Registry(ref)
	if err != nil {
		return err
	}
	return reg.SetApprovalForAll(ctx, c.cfg.Address, admin, true)
}

// delivered returns the units held in custody for id.
func (c *Coordinator) delivered(id settlement.OrderID) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	units, ok := c.state.Delivered[id]
	return units, ok
}

// setDelivered persists the custody marker of id. Zero units removes it.
func (c *Coordinator) setDelivered(ctx context.Context, id settlement.OrderID, units uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.state.clone()
	if units == 0 {
		delete(next.Delivered, id)
	} else {
		if next.Delivered == nil {
			next.Delivered = make(map[settlement.OrderID]uint64)
		}
		next.Delivered[id] = units
	}
	if err := c.states.Save(ctx, next); err != nil {
		return fmt.Errorf("save custody marker of %q: %w", id, err)
	}
	c.state = next
	return nil
}

func (c *Coordinator) registry() (Registry, error) {
	ref := c.RegistryRef()
	if ref.IsZero() {
		return nil, fmt.Errorf("registry not set: %w", settlement.ErrState)
	}
	return c.registries.Registry(ref)
}

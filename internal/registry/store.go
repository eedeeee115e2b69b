package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// State is the registry-wide persisted state.
type State struct {
	Paused bool
}

// Store persists orders and the registry indices. Every method applies its
// index changes together with the record change.
type Store interface {
	Get(ctx context.Context, id settlement.OrderID) (Order, error)
	// Used reports whether id was ever issued, retired ids included.
	Used(ctx context.Context, id settlement.OrderID) (bool, error)
	// Insert adds o, tombstones its id, appends it to the holder index and
	// points its business id at it.
	Insert(ctx context.Context, o Order) error
	// Update replaces the record if its stored status still equals expect and
	// moves the holder index entry when the holder changed. A mismatch fails
	// with settlement.ErrState.
	Update(ctx context.Context, expect settlement.Status, o Order) error
	// Delete retires id: the record and both index entries go, the tombstone stays.
	Delete(ctx context.Context, id settlement.OrderID) error
	// Discard undoes an Insert, tombstone included, and points the business id
	// back at prevBusiness (NoOrder clears it).
	Discard(ctx context.Context, id settlement.OrderID, prevBusiness settlement.OrderID) error

	ByBusinessID(ctx context.Context, businessID string) (settlement.OrderID, error)
	ByHolder(ctx context.Context, holder settlement.Address) ([]settlement.OrderID, error)

	SetOperator(ctx context.Context, holder, operator settlement.Address, approved bool) error
	IsOperator(ctx context.Context, holder, operator settlement.Address) (bool, error)

	LoadState(ctx context.Context) (State, error)
	SaveState(ctx context.Context, s State) error
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an arena of orders keyed by id. Indices hold ids, never
// pointers into the arena.
type MemoryStore struct {
	mu         sync.RWMutex
	orders     map[settlement.OrderID]Order
	used       map[settlement.OrderID]struct{}
	byBusiness map[string]settlement.OrderID
	byHolder   map[settlement.Address][]settlement.OrderID
	operators  map[settlement.Address]map[settlement.Address]bool
	state      State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:     make(map[settlement.OrderID]Order),
		used:       make(map[settlement.OrderID]struct{}),
		byBusiness: make(map[string]settlement.OrderID),
		byHolder:   make(map[settlement.Address][]settlement.OrderID),
		operators:  make(map[settlement.Address]map[settlement.Address]bool),
	}
}

func (s *MemoryStore) Get(_ context.Context, id settlement.OrderID) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order %q: %w", id, settlement.ErrNotFound)
	}
	return o, nil
}

func (s *MemoryStore) Used(_ context.Context, id settlement.OrderID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.used[id]
	return ok, nil
}

func (s *MemoryStore) Insert(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %q: %w", o.ID, settlement.ErrDuplicate)
	}
	s.orders[o.ID] = o
	s.used[o.ID] = struct{}{}
	holder := o.Holder.Normalize()
	s.byHolder[holder] = append(s.byHolder[holder], o.ID)
	if o.BusinessID != "" {
		s.byBusiness[o.BusinessID] = o.ID
	}
	return nil
}

func (s *MemoryStore) Update(_ context.Context, expect settlement.Status, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %q: %w", o.ID, settlement.ErrNotFound)
	}
	if cur.Status != expect {
		return &settlement.StatusError{ID: o.ID, Want: expect, Actual: cur.Status}
	}

	if !cur.Holder.Equal(o.Holder) {
		s.removeFromHolder(cur.Holder, o.ID)
		holder := o.Holder.Normalize()
		s.byHolder[holder] = append(s.byHolder[holder], o.ID)
	}
	s.orders[o.ID] = o
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id settlement.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %q: %w", id, settlement.ErrNotFound)
	}
	s.removeFromHolder(o.Holder, id)
	if s.byBusiness[o.BusinessID] == id {
		delete(s.byBusiness, o.BusinessID)
	}
	delete(s.orders, id)
	return nil
}

func (s *MemoryStore) Discard(_ context.Context, id settlement.OrderID, prevBusiness settlement.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %q: %w", id, settlement.ErrNotFound)
	}
	s.removeFromHolder(o.Holder, id)
	if o.BusinessID != "" {
		if prevBusiness == settlement.NoOrder {
			delete(s.byBusiness, o.BusinessID)
		} else {
			s.byBusiness[o.BusinessID] = prevBusiness
		}
	}
	delete(s.orders, id)
	delete(s.used, id)
	return nil
}

func (s *MemoryStore) ByBusinessID(_ context.Context, businessID string) (settlement.OrderID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byBusiness[businessID], nil
}

func (s *MemoryStore) ByHolder(_ context.Context, holder settlement.Address) ([]settlement.OrderID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byHolder[holder.Normalize()]
	out := make([]settlement.OrderID, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *MemoryStore) SetOperator(_ context.Context, holder, operator settlement.Address, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	holder = holder.Normalize()
	ops, ok := s.operators[holder]
	if !ok {
		ops = make(map[settlement.Address]bool)
		s.operators[holder] = ops
	}
	if approved {
		ops[operator.Normalize()] = true
	} else {
		delete(ops, operator.Normalize())
	}
	return nil
}

func (s *MemoryStore) IsOperator(_ context.Context, holder, operator settlement.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operators[holder.Normalize()][operator.Normalize()], nil
}

func (s *MemoryStore) LoadState(context.Context) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

func (s *MemoryStore) SaveState(_ context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	return nil
}

// removeFromHolder keeps the remaining ids in insertion order.
func (s *MemoryStore) removeFromHolder(holder settlement.Address, id settlement.OrderID) {
	holder = holder.Normalize()
	ids := s.byHolder[holder]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.byHolder, holder)
		return
	}
	s.byHolder[holder] = ids
}

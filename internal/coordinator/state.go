package coordinator

import (
	"context"
	"maps"
	"sync"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// State is the coordinator's persisted storage. Its layout does not depend on
// the active Logic; an upgrade rewrites VersionTag and nothing else.
type State struct {
	RegistryRef settlement.Address
	Admin       settlement.Address
	Paused      bool
	VersionTag  string
	Initialized bool
	// Delivered maps an order to the units CheckDeliveryForPot pulled into
	// custody for it. The entry is removed when the units are released.
	Delivered map[settlement.OrderID]uint64
}

// clone copies s so that edits to Delivered do not leak into s.
func (s State) clone() State {
	s.Delivered = maps.Clone(s.Delivered)
	return s
}

// StateStore persists the single State record. Load returns the zero State
// when nothing was saved yet.
type StateStore interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

var _ StateStore = (*MemoryStateStore)(nil)

type MemoryStateStore struct {
	mu    sync.RWMutex
	state State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (m *MemoryStateStore) Load(context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone(), nil
}

func (m *MemoryStateStore) Save(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s.clone()
	return nil
}

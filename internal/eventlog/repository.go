package eventlog

import (
	"context"
	"sync"
)

// Repository is the port for persisting log entries. The table is append-only;
// entries are never updated or removed.
type Repository interface {
	// Append stores entry and sets entry.Seq.
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// MemoryRepository keeps entries in a slice. Used by tests and by the service
// when no database path is configured.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(_ context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Seq = int64(len(r.entries)) + 1
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range r.entries {
		if !f.Match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

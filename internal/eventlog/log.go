package eventlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

var _ settlement.Emitter = (*Log)(nil)

// Log implements settlement.Emitter: it persists the entry, then publishes it.
// An event that could not be stored is never published.
type Log struct {
	repo   Repository
	bus    *Bus
	logger *slog.Logger
}

// New returns a Log over repo. bus may be nil, in which case nothing is published.
func New(repo Repository, bus *Bus, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{repo: repo, bus: bus, logger: logger}
}

func (l *Log) Emit(ctx context.Context, source settlement.Address, ev settlement.Event) error {
	entry, err := NewEntry(ctx, source, ev)
	if err != nil {
		return err
	}

	if err := l.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("eventlog: append %s for %q: %w", entry.Name, entry.OrderID, err)
	}

	l.logger.InfoContext(ctx, "event emitted",
		"event", entry.Name,
		"seq", entry.Seq,
		"order_id", entry.OrderID,
		"source", entry.Source,
	)

	if l.bus != nil {
		l.bus.Publish(Message{Entry: *entry, Event: ev})
	}
	return nil
}

// List reads entries back from the repository.
func (l *Log) List(ctx context.Context, f Filter) ([]Entry, error) {
	return l.repo.List(ctx, f)
}

func (l *Log) Bus() *Bus { return l.bus }

package eventlog

import (
	"log/slog"
	"sync"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// Message is what subscribers receive: the stored entry and its typed event.
type Message struct {
	Entry Entry
	Event settlement.Event
}

// Bus fans published messages out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the message and a warning is logged.
// Missed messages can be recovered from the repository by sequence number.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Message
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[int]chan Message), logger: logger}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel func unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Message, buffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Bus) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.logger.Warn("event dropped for slow subscriber",
				"subscriber", id,
				"event", msg.Entry.Name,
				"seq", msg.Entry.Seq,
			)
		}
	}
}

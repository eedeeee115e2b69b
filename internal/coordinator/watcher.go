package coordinator

import (
	"context"
	"log/slog"

	"github.com/jcmexdev/dvp-settlement/internal/eventlog"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// Watcher reacts to orders issued straight into the coordinator's custody by
// checking their delivery. Failures are logged, never retried: a later
// CheckDeliveryForPot call can still settle the order.
type Watcher struct {
	c      *Coordinator
	bus    *eventlog.Bus
	logger *slog.Logger
	buffer int
}

func NewWatcher(c *Coordinator, bus *eventlog.Bus, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{c: c, bus: bus, logger: logger, buffer: 64}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	msgs, cancel := w.bus.Subscribe(w.buffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			w.handle(ctx, msg)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, msg eventlog.Message) {
	tr, ok := msg.Event.(settlement.Transfer)
	if !ok || !tr.From.IsZero() || !tr.To.Equal(w.c.Address()) {
		return
	}
	if !msg.Entry.Source.Equal(w.c.RegistryRef()) {
		return
	}

	if err := w.c.CheckDeliveryForPot(ctx, w.c.Address(), tr.ID); err != nil {
		w.logger.WarnContext(ctx, "delivery check on issuance failed",
			"order_id", tr.ID, "seq", msg.Entry.Seq, "error", err)
		return
	}
	w.logger.InfoContext(ctx, "delivery confirmed on issuance", "order_id", tr.ID, "seq", msg.Entry.Seq)
}

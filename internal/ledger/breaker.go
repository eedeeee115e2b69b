package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// ErrLedgerUnavailable is returned while the breaker is open.
var ErrLedgerUnavailable = errors.New("ledger: unavailable")

// BreakerConfig tunes the circuit breaker wrapped around a remote ledger.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Name == "" {
		c.Name = "ledger"
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
	return c
}

type breakerLedger struct {
	next Ledger
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker guards l with a circuit breaker. Funds refusals count as
// successful calls; only transport failures trip the breaker.
func WithBreaker(l Ledger, cfg BreakerConfig, logger *slog.Logger) Ledger {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ledger circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsFundsError(err) || errors.Is(err, settlement.ErrRange) ||
				errors.Is(err, context.Canceled)
		},
	}

	return &breakerLedger{next: l, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *breakerLedger) BalanceOf(ctx context.Context, holder settlement.Address) (uint64, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.BalanceOf(ctx, holder)
	})
	if err != nil {
		return 0, b.wrap(err)
	}
	return v.(uint64), nil
}

func (b *breakerLedger) AllowanceOf(ctx context.Context, owner, spender settlement.Address) (uint64, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.AllowanceOf(ctx, owner, spender)
	})
	if err != nil {
		return 0, b.wrap(err)
	}
	return v.(uint64), nil
}

func (b *breakerLedger) TransferFrom(ctx context.Context, spender, owner, recipient settlement.Address, units uint64) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.TransferFrom(ctx, spender, owner, recipient, units)
	})
	return b.wrap(err)
}

func (b *breakerLedger) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrLedgerUnavailable, b.cb.Name(), err)
	}
	return err
}

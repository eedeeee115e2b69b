// Package redis adapts a Redis-hosted unit ledger to ledger.Ledger.
//
// Balances live in one hash per ledger, allowances in one hash per owner.
// TransferFrom runs as a single Lua script so the balance check, the
// allowance debit and both balance updates commit together.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/dvp-settlement/internal/ledger"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

var _ ledger.Ledger = (*Ledger)(nil)

// MaxUnits is the largest amount one call accepts. Lua numbers are doubles
// and lose integer precision above 2^53.
const MaxUnits uint64 = 1 << 53

var ErrUnitsOutOfRange = fmt.Errorf("redis ledger: units above %d: %w", MaxUnits, settlement.ErrRange)

func checkUnits(units uint64) error {
	if units > MaxUnits {
		return fmt.Errorf("%w (got %d)", ErrUnitsOutOfRange, units)
	}
	return nil
}

// transferScript returns 1 on success, -1 for a low balance, -2 for a low allowance.
//
// KEYS[1] balances hash, KEYS[2] owner's allowance hash
// ARGV[1] owner, ARGV[2] spender, ARGV[3] recipient, ARGV[4] units
var transferScript = redis.NewScript(`
local units = tonumber(ARGV[4])
local balance = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if balance < units then
	return -1
end
if ARGV[1] ~= ARGV[2] then
	local allowed = tonumber(redis.call('HGET', KEYS[2], ARGV[2]) or '0')
	if allowed < units then
		return -2
	end
	redis.call('HINCRBY', KEYS[2], ARGV[2], -units)
end
redis.call('HINCRBY', KEYS[1], ARGV[1], -units)
redis.call('HINCRBY', KEYS[1], ARGV[3], units)
return 1
`)

// Ledger talks to the ledger named name on the given client.
type Ledger struct {
	client redis.UniversalClient
	name   string
}

func New(client redis.UniversalClient, name string) *Ledger {
	return &Ledger{client: client, name: name}
}

// NewFromAddr opens a dedicated client for addr.
func NewFromAddr(addr, name string) *Ledger {
	return New(redis.NewClient(&redis.Options{Addr: addr}), name)
}

func (l *Ledger) Close() error { return l.client.Close() }

func (l *Ledger) balancesKey() string { return fmt.Sprintf("ledger:%s:balances", l.name) }

func (l *Ledger) allowanceKey(owner settlement.Address) string {
	return fmt.Sprintf("ledger:%s:allowance:%s", l.name, owner.Normalize())
}

func (l *Ledger) BalanceOf(ctx context.Context, holder settlement.Address) (uint64, error) {
	return l.readUint(ctx, l.balancesKey(), string(holder.Normalize()))
}

func (l *Ledger) AllowanceOf(ctx context.Context, owner, spender settlement.Address) (uint64, error) {
	return l.readUint(ctx, l.allowanceKey(owner), string(spender.Normalize()))
}

func (l *Ledger) TransferFrom(ctx context.Context, spender, owner, recipient settlement.Address, units uint64) error {
	if err := checkUnits(units); err != nil {
		return err
	}
	res, err := transferScript.Run(ctx, l.client,
		[]string{l.balancesKey(), l.allowanceKey(owner)},
		string(owner.Normalize()), string(spender.Normalize()), string(recipient.Normalize()), units,
	).Int64()
	if err != nil {
		return fmt.Errorf("redis ledger %s: transfer: %w", l.name, err)
	}

	switch res {
	case 1:
		return nil
	case -1:
		return ledger.ErrInsufficientBalance
	case -2:
		return ledger.ErrInsufficientAllowance
	default:
		return fmt.Errorf("redis ledger %s: transfer: unexpected script result %d", l.name, res)
	}
}

// Mint credits units to holder. Operator tooling only; the coordinator never mints.
func (l *Ledger) Mint(ctx context.Context, holder settlement.Address, units uint64) error {
	if err := checkUnits(units); err != nil {
		return err
	}
	if err := l.client.HIncrBy(ctx, l.balancesKey(), string(holder.Normalize()), int64(units)).Err(); err != nil {
		return fmt.Errorf("redis ledger %s: mint: %w", l.name, err)
	}
	return nil
}

// Approve sets the allowance owner grants spender.
func (l *Ledger) Approve(ctx context.Context, owner, spender settlement.Address, units uint64) error {
	if err := checkUnits(units); err != nil {
		return err
	}
	if err := l.client.HSet(ctx, l.allowanceKey(owner), string(spender.Normalize()), units).Err(); err != nil {
		return fmt.Errorf("redis ledger %s: approve: %w", l.name, err)
	}
	return nil
}

func (l *Ledger) readUint(ctx context.Context, key, field string) (uint64, error) {
	v, err := l.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis ledger %s: read %s: %w", l.name, key, err)
	}

	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis ledger %s: parse %q: %w", l.name, v, err)
	}
	return n, nil
}

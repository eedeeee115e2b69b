package ledger

import (
	"context"
	"sync"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

var _ Ledger = (*Memory)(nil)

// TransferHook runs at the start of every TransferFrom, outside the ledger
// lock. It stands in for the ledger calling back into its caller.
type TransferHook func(ctx context.Context, owner, recipient settlement.Address, units uint64)

// Memory is an in-process ledger for local development and tests.
// Do NOT use in production: nothing is persisted.
type Memory struct {
	mu         sync.Mutex
	balances   map[settlement.Address]uint64
	allowances map[settlement.Address]map[settlement.Address]uint64
	hook       TransferHook
	failNext   error
}

func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[settlement.Address]uint64),
		allowances: make(map[settlement.Address]map[settlement.Address]uint64),
	}
}

// Mint credits units to holder.
func (m *Memory) Mint(holder settlement.Address, units uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[holder.Normalize()] += units
}

// Approve sets the allowance owner grants spender.
func (m *Memory) Approve(owner, spender settlement.Address, units uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowanceMap(owner)[spender.Normalize()] = units
}

// IncreaseAllowance adds units to the allowance owner grants spender.
func (m *Memory) IncreaseAllowance(owner, spender settlement.Address, units uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowanceMap(owner)[spender.Normalize()] += units
}

func (m *Memory) SetTransferHook(h TransferHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// FailNextTransfer makes the next TransferFrom return err without moving units.
func (m *Memory) FailNextTransfer(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *Memory) BalanceOf(_ context.Context, holder settlement.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[holder.Normalize()], nil
}

func (m *Memory) AllowanceOf(_ context.Context, owner, spender settlement.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowances[owner.Normalize()][spender.Normalize()], nil
}

func (m *Memory) TransferFrom(ctx context.Context, spender, owner, recipient settlement.Address, units uint64) error {
	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()
	if hook != nil {
		hook(ctx, owner, recipient, units)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}

	owner, spender, recipient = owner.Normalize(), spender.Normalize(), recipient.Normalize()

	if m.balances[owner] < units {
		return ErrInsufficientBalance
	}
	if spender != owner {
		allowed := m.allowances[owner][spender]
		if allowed < units {
			return ErrInsufficientAllowance
		}
		m.allowanceMap(owner)[spender] = allowed - units
	}

	m.balances[owner] -= units
	m.balances[recipient] += units
	return nil
}

func (m *Memory) allowanceMap(owner settlement.Address) map[settlement.Address]uint64 {
	owner = owner.Normalize()
	a, ok := m.allowances[owner]
	if !ok {
		a = make(map[settlement.Address]uint64)
		m.allowances[owner] = a
	}
	return a
}

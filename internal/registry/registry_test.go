package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

const (
	admin    settlement.Address = "0xAdmin"
	dvp      settlement.Address = "0xDvP"
	sender   settlement.Address = "0xSender"
	receiver settlement.Address = "0xReceiver"
	self     settlement.Address = "0xPOT"
	stranger settlement.Address = "0xStranger"
)

type recorder struct {
	mu     sync.Mutex
	events []settlement.Event
	fail   error
}

func (r *recorder) Emit(_ context.Context, _ settlement.Address, ev settlement.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) last() settlement.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

var mintTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*Registry, *recorder) {
	t.Helper()
	rec := &recorder{}
	r := New(Config{
		Address: self,
		Admin:   admin,
		Name:    "Payment Order Token",
		Symbol:  "POT",
		BaseURI: "https://pot.example/",
	}, NewMemoryStore(), rec, WithClock(func() time.Time { return mintTime }))
	return r, rec
}

func issueReq(id settlement.OrderID, business string) IssueRequest {
	return IssueRequest{
		Holder:        dvp,
		ID:            id,
		BusinessID:    business,
		UnitsRequired: 2,
		AuxDetail:     7,
		LedgerRef:     "0xAT",
		Currency:      "EUR",
		Amount:        decimal.NewFromInt(10),
		Sender:        sender,
		Receiver:      receiver,
	}
}

func TestIssue(t *testing.T) {
	ctx := context.Background()
	r, rec := newRegistry(t)

	o, err := r.Issue(ctx, admin, issueReq("1", "B-1"))
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusIssued, o.Status)
	assert.Equal(t, mintTime, o.MintTime)
	assert.Equal(t, settlement.Transfer{From: settlement.NoAddress, To: dvp, ID: "1"}, rec.last())

	holder, err := r.HolderOf(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, dvp, holder)

	uri, err := r.TokenURI(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "https://pot.example/1", uri)

	id, err := r.TokenIDByBusinessID(ctx, "B-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.OrderID("1"), id)

	ids, err := r.TokenIDsByOwner(ctx, "0xdvp")
	require.NoError(t, err)
	assert.Equal(t, []settlement.OrderID{"1"}, ids)

	detail, err := r.DealDetail(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, DealDetail{
		Status: settlement.StatusIssued, UnitsRequired: 2, LedgerRef: "0xAT", Sender: sender, Receiver: receiver,
	}, detail)
}

func TestIssueRejections(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)

	_, err := r.Issue(ctx, stranger, issueReq("1", "B-1"))
	var authErr *settlement.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, settlement.RoleAdmin, authErr.Role)

	_, err = r.Issue(ctx, admin, issueReq("", "B-1"))
	assert.ErrorIs(t, err, settlement.ErrInvalid)

	neg := issueReq("1", "B-1")
	neg.Amount = decimal.NewFromInt(-1)
	_, err = r.Issue(ctx, admin, neg)
	assert.ErrorIs(t, err, settlement.ErrRange)

	_, err = r.Issue(ctx, admin, issueReq("1", "B-1"))
	require.NoError(t, err)

	dup := issueReq("1", "B-2")
	dup.Holder = stranger
	dup.Amount = decimal.NewFromInt(3)
	_, err = r.Issue(ctx, admin, dup)
	assert.ErrorIs(t, err, settlement.ErrDuplicate)

	_, err = r.Issue(ctx, admin, issueReq("2", "B-1"))
	assert.ErrorIs(t, err, settlement.ErrDuplicate, "business id still held by an active order")

	o, err := r.Order(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "B-1", o.BusinessID)
	assert.Equal(t, dvp, o.Holder)
	assert.True(t, o.Amount.Equal(decimal.NewFromInt(10)))

	id, err := r.TokenIDByBusinessID(ctx, "B-2")
	require.NoError(t, err)
	assert.Equal(t, settlement.NoOrder, id)
	_, err = r.Order(ctx, "2")
	assert.ErrorIs(t, err, settlement.ErrNotFound)
}

func TestIssueReusesBusinessIDOfDeactivatedOrder(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)

	_, err := r.Issue(ctx, admin, issueReq("1", "B-1"))
	require.NoError(t, err)
	require.NoError(t, r.Deactivate(ctx, dvp, "1"))

	_, err = r.Issue(ctx, admin, issueReq("2", "B-1"))
	require.NoError(t, err)

	id, err := r.TokenIDByBusinessID(ctx, "B-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.OrderID("2"), id)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	r, rec := newRegistry(t)
	_, err := r.Issue(ctx, admin, issueReq("1", "B-1"))
	require.NoError(t, err)

	err = r.ConfirmPayment(ctx, admin, "1")
	assert.ErrorIs(t, err, settlement.ErrState)
	assert.Contains(t, err.Error(), "POT 1 does not have status 'Payment Initiated'.")

	err = r.InitiatePayment(ctx, stranger, "1")
	assert.ErrorIs(t, err, settlement.ErrUnauthorized)

	require.NoError(t, r.InitiatePayment(ctx, dvp, "1"))
	ev, ok := rec.last().(settlement.PaymentInitiated)
	require.True(t, ok)
	assert.Equal(t, "https://pot.example/1", ev.LocatorURI)

	assert.ErrorIs(t, r.ConfirmPayment(ctx, dvp, "1"), settlement.ErrUnauthorized)
	require.NoError(t, r.ConfirmPayment(ctx, admin, "1"))
	assert.IsType(t, settlement.PaymentConfirmed{}, rec.last())

	require.NoError(t, r.Deactivate(ctx, dvp, "1"))
	assert.IsType(t, settlement.PotDeactivated{}, rec.last())

	err = r.Deactivate(ctx, dvp, "1")
	assert.ErrorIs(t, err, settlement.ErrState)
	assert.Contains(t, err.Error(), "POT 1 already has status 'Deactivated'.")

	status, err := r.Status(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusDeactivated, status)
}

func TestChangeAmount(t *testing.T) {
	ctx := context.Background()
	r, rec := newRegistry(t)
	_, err := r.Issue(ctx, admin, issueReq("1", "B-1"))
	require.NoError(t, err)

	assert.ErrorIs(t, r.ChangeAmount(ctx, dvp, "1", decimal.NewFromInt(5)), settlement.ErrUnauthorized)
	assert.ErrorIs(t, r.ChangeAmount(ctx, receiver, "1", decimal.NewFromInt(11)), settlement.ErrRange)
	assert.ErrorIs(t, r.ChangeAmount(ctx, receiver, "1", decimal.NewFromInt(-1)), settlement.ErrRange)
	assert.Len(t, rec.events, 1, "only the issuance Transfer")

	amount, _, err := r.FinalAmount(ctx, "1")
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.NewFromInt(10)), "rejected changes leave the amount")

	require.NoError(t, r.ChangeAmount(ctx, receiver, "1", decimal.Zero))
	amount, _, err = r.FinalAmount(ctx, "1")
	require.NoError(t, err)
	assert.True(t, amount.IsZero())

	require.NoError(t, r.ChangeAmount(ctx, receiver, "1", decimal.NewFromInt(4)))
	assert.Equal(t, settlement.ChangeFinalAmount{ID: "1", NewAmount: decimal.NewFromInt(4), Currency: "EUR"}, rec.last())

	// The bound stays the issued amount, not the last amended one.
	require.NoError(t, r.ChangeAmount(ctx, receiver, "1", decimal.NewFromInt(10)))

	require.NoError(t, r.ChangeAmount(ctx, receiver, "1", decimal.NewFromInt(7)))
	require.NoError(t, r.InitiatePayment(ctx, dvp, "1"))
	ev := rec.last().(settlement.PaymentInitiated)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(7)))

	amount, currency, err := r.FinalAmount(ctx, "1")
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.NewFromInt(7)))
	assert.Equal(t, "EUR", currency)

	require.NoError(t, r.Deactivate(ctx, dvp, "1"))
	assert.ErrorIs(t, r.ChangeAmount(ctx, receiver, "1", decimal.NewFromInt(1)), settlement.ErrState)
}

func TestTransferAndRetire(t *testing.T) {
	ctx := context.Background()
	r, rec := newRegistry(t)
	_, err := r.Issue(ctx, admin, issueReq("1", "B-1"))
	require.NoError(t, err)
	_, err = r.Issue(ctx, admin, issueReq("2", "B-2"))
	require.NoError(t, err)

	assert.ErrorIs(t, r.Transfer(ctx, stranger, dvp, stranger, "1"), settlement.ErrUnauthorized)
	assert.ErrorIs(t, r.Transfer(ctx, dvp, sender, stranger, "1"), settlement.ErrInvalid)

	require.NoError(t, r.Transfer(ctx, dvp, dvp, sender, "1"))
	assert.Equal(t, settlement.Transfer{From: dvp, To: sender, ID: "1"}, rec.last())

	ids, err := r.TokenIDsByOwner(ctx, dvp)
	require.NoError(t, err)
	assert.Equal(t, []settlement.OrderID{"2"}, ids)
	ids, err = r.TokenIDsByOwner(ctx, sender)
	require.NoError(t, err)
	assert.Equal(t, []settlement.OrderID{"1"}, ids)

	require.NoError(t, r.Retire(ctx, sender, "1"))
	assert.Equal(t, settlement.Transfer{From: sender, To: self, ID: "1"}, rec.last())

	_, err = r.Order(ctx, "1")
	assert.ErrorIs(t, err, settlement.ErrNotFound)
	ids, err = r.TokenIDsByOwner(ctx, sender)
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
	id, err := r.TokenIDByBusinessID(ctx, "B-1")
	require.NoError(t, err)
	assert.Equal(t, settlement.NoOrder, id)

	_, err = r.Issue(ctx, admin, issueReq("1", "B-9"))
	assert.ErrorIs(t, err, settlement.ErrDuplicate, "retired ids are never reissued")
}

func TestApprovals(t *testing.T) {
	ctx := context.Background()
	r, rec := newRegistry(t)
	_, err := r.Issue(ctx, admin, issueReq("1", "B-1"))
	require.NoError(t, err)

	ok, err := r.CanOperate(ctx, "1", stranger)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, r.Approve(ctx, stranger, "1", stranger), settlement.ErrUnauthorized)
	require.NoError(t, r.Approve(ctx, dvp, "1", stranger))
	assert.Equal(t, settlement.Approval{Holder: dvp, Operator: stranger, ID: "1"}, rec.last())

	require.NoError(t, r.InitiatePayment(ctx, stranger, "1"))

	// A transfer clears the single-order approval.
	require.NoError(t, r.Transfer(ctx, stranger, dvp, sender, "1"))
	ok, err = r.CanOperate(ctx, "1", stranger)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetApprovalForAll(ctx, sender, receiver, true))
	assert.Equal(t, settlement.ApprovalForAll{Holder: sender, Operator: receiver, Approved: true}, rec.last())
	require.NoError(t, r.Deactivate(ctx, receiver, "1"))

	assert.ErrorIs(t, r.SetApprovalForAll(ctx, sender, sender, true), settlement.ErrInvalid)
}

func TestPause(t *testing.T) {
	ctx := context.Background()
	r, rec := newRegistry(t)
	_, err := r.Issue(ctx, admin, issueReq("1", "B-1"))
	require.NoError(t, err)

	assert.ErrorIs(t, r.Pause(ctx, stranger), settlement.ErrUnauthorized)
	require.NoError(t, r.Pause(ctx, admin))
	assert.Equal(t, settlement.Paused{Account: admin}, rec.last())
	assert.ErrorIs(t, r.Pause(ctx, admin), settlement.ErrPaused)

	paused, err := r.Paused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	_, err = r.Issue(ctx, admin, issueReq("2", "B-2"))
	assert.ErrorIs(t, err, settlement.ErrPaused)
	assert.ErrorIs(t, r.InitiatePayment(ctx, dvp, "1"), settlement.ErrPaused)
	assert.ErrorIs(t, r.Deactivate(ctx, dvp, "1"), settlement.ErrPaused)
	assert.ErrorIs(t, r.ChangeAmount(ctx, receiver, "1", decimal.NewFromInt(1)), settlement.ErrPaused)
	assert.ErrorIs(t, r.Transfer(ctx, dvp, dvp, sender, "1"), settlement.ErrPaused)

	// Reads keep working.
	_, err = r.Order(ctx, "1")
	require.NoError(t, err)

	require.NoError(t, r.Unpause(ctx, admin))
	assert.ErrorIs(t, r.Unpause(ctx, admin), settlement.ErrState)
	require.NoError(t, r.InitiatePayment(ctx, dvp, "1"))
}

func TestEmitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	r, rec := newRegistry(t)
	_, err := r.Issue(ctx, admin, issueReq("1", "B-1"))
	require.NoError(t, err)

	boom := errors.New("log unavailable")
	rec.fail = boom

	assert.ErrorIs(t, r.InitiatePayment(ctx, dvp, "1"), boom)
	status, err := r.Status(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusIssued, status)

	_, err = r.Issue(ctx, admin, issueReq("2", "B-2"))
	assert.ErrorIs(t, err, boom)
	_, err = r.Order(ctx, "2")
	assert.ErrorIs(t, err, settlement.ErrNotFound)

	assert.ErrorIs(t, r.Retire(ctx, dvp, "1"), boom)
	holder, err := r.HolderOf(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, dvp, holder)

	assert.ErrorIs(t, r.Pause(ctx, admin), boom)
	paused, err := r.Paused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	rec.fail = nil
	_, err = r.Issue(ctx, admin, issueReq("2", "B-2"))
	require.NoError(t, err, "a discarded issuance leaves its id free")
}

func TestConcurrentInitiateSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)
	_, err := r.Issue(ctx, admin, issueReq("1", "B-1"))
	require.NoError(t, err)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.InitiatePayment(ctx, dvp, "1")
		}()
	}
	wg.Wait()
	close(errs)

	var ok, state int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, settlement.ErrState):
			state++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, state)
}

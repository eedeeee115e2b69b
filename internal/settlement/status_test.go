package settlement

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	all := []Status{StatusIssued, StatusPaymentInitiated, StatusPaymentConfirmed, StatusDeactivated}
	allowed := map[[2]Status]bool{
		{StatusIssued, StatusPaymentInitiated}:           true,
		{StatusIssued, StatusDeactivated}:                true,
		{StatusPaymentInitiated, StatusPaymentConfirmed}: true,
		{StatusPaymentInitiated, StatusDeactivated}:      true,
		{StatusPaymentConfirmed, StatusDeactivated}:      true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, StatusDeactivated.Terminal())
	assert.False(t, StatusPaymentConfirmed.Terminal())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("PaymentConfirmed")
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentConfirmed, s)

	_, err = ParseStatus("Shipped")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		kind error
		want string
	}{
		{
			err:  &StatusError{ID: "1", Want: StatusIssued},
			kind: ErrState,
			want: "POT 1 does not have status 'Issued'.",
		},
		{
			err:  &StatusError{ID: "1", Want: StatusPaymentInitiated},
			kind: ErrState,
			want: "POT 1 does not have status 'Payment Initiated'.",
		},
		{
			err:  &InsufficientFundsError{ID: "1", Resource: ResourceAllowance, Observed: 0, Required: 2},
			kind: ErrInsufficientFunds,
			want: "Allowance 0 not sufficient to settle POT 1. Allowance of minimum 2 needed.",
		},
		{
			err:  &InsufficientFundsError{ID: "1", Resource: ResourceReceiverBalance, Observed: 0, Required: 10},
			kind: ErrInsufficientFunds,
			want: "Balance 0 of receiver not sufficient to settle POT 1. Balance of minimum 10 needed.",
		},
		{
			err:  &InsufficientFundsError{ID: "1", Resource: ResourceCustodyBalance, Observed: 1, Required: 2},
			kind: ErrInsufficientFunds,
			want: "AT-Balance 1 not sufficient for delivery. Minimum 2 needed.",
		},
		{
			err:  &StalenessError{ID: "1", Window: 96 * time.Hour},
			kind: ErrStale,
			want: "POT 1 is not older than 96 hours.",
		},
		{
			err:  &DeliveredError{ID: "1", Units: 2},
			kind: ErrState,
			want: "Delivery for POT 1 already confirmed. 2 units held in custody.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			wrapped := fmt.Errorf("coordinator: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.kind)
			assert.Equal(t, tt.kind, Kind(wrapped))
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOutsideTaxonomy(t *testing.T) {
	assert.Nil(t, Kind(errors.New("disk full")))
	assert.Equal(t, ErrUnauthorized, Kind(&AuthorizationError{Op: "pause", Caller: "x", Role: RoleAdmin}))
}

func TestAddressEqual(t *testing.T) {
	assert.True(t, Address("0xABC").Equal(" 0xabc "))
	assert.True(t, Address("").IsZero())
	assert.False(t, Address("0xabc").Equal("0xabd"))
}

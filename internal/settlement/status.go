package settlement

import "fmt"

// Status is the lifecycle state of a payment order.
type Status uint8

const (
	StatusIssued Status = iota
	StatusPaymentInitiated
	StatusPaymentConfirmed
	StatusDeactivated
)

var statusNames = map[Status]string{
	StatusIssued:           "Issued",
	StatusPaymentInitiated: "PaymentInitiated",
	StatusPaymentConfirmed: "PaymentConfirmed",
	StatusDeactivated:      "Deactivated",
}

// labels used in precondition messages ("does not have status 'Payment Initiated'").
var statusLabels = map[Status]string{
	StatusIssued:           "Issued",
	StatusPaymentInitiated: "Payment Initiated",
	StatusPaymentConfirmed: "Payment Confirmed",
	StatusDeactivated:      "Deactivated",
}

// transitions lists every edge of the order state machine.
var transitions = map[Status][]Status{
	StatusIssued:           {StatusPaymentInitiated, StatusDeactivated},
	StatusPaymentInitiated: {StatusPaymentConfirmed, StatusDeactivated},
	StatusPaymentConfirmed: {StatusDeactivated},
	StatusDeactivated:      nil,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Label is the human readable form used in error messages.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return s.String()
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no edge leaves s.
func (s Status) Terminal() bool { return s == StatusDeactivated }

// CanTransition reports whether next is a direct successor of s.
func (s Status) CanTransition(next Status) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// ParseStatus accepts the names produced by Status.String.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrInvalid, name)
}

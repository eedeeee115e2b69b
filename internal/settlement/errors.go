package settlement

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Every error returned by the registry or the coordinator wraps
// exactly one of them, so callers branch with errors.Is.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrState              = errors.New("status mismatch")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrDuplicate          = errors.New("duplicate")
	ErrStale              = errors.New("not stale")
	ErrPaused             = errors.New("paused")
	ErrRange              = errors.New("amount out of range")
	ErrNotFound           = errors.New("not found")
	ErrInvalid            = errors.New("invalid argument")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrUnsupported        = errors.New("unsupported")
)

// Role names the privilege an operation requires.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleHolder   Role = "holder or approved operator"
	RoleReceiver Role = "receiver"
)

// AuthorizationError reports a caller lacking Role for Op.
type AuthorizationError struct {
	Op     string
	Caller Address
	Role   Role
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s: caller %q is not the %s", e.Op, e.Caller, e.Role)
}

func (e *AuthorizationError) Unwrap() error { return ErrUnauthorized }

// StatusError reports an order whose status is not the predecessor an
// operation requires.
type StatusError struct {
	ID     OrderID
	Want   Status
	Actual Status
	// Negated marks "already has status" checks, used by deactivation.
	Negated bool
}

func (e *StatusError) Error() string {
	if e.Negated {
		return fmt.Sprintf("POT %s already has status '%s'.", e.ID, e.Want.Label())
	}
	return fmt.Sprintf("POT %s does not have status '%s'.", e.ID, e.Want.Label())
}

func (e *StatusError) Unwrap() error { return ErrState }

// CustodyError reports an order the coordinator settles but does not hold.
type CustodyError struct {
	ID OrderID
}

func (e *CustodyError) Error() string {
	return fmt.Sprintf("DvP is not owner of POT %s.", e.ID)
}

func (e *CustodyError) Unwrap() error { return ErrState }

// InProgressError reports a settlement call on an order another call is
// still settling.
type InProgressError struct {
	ID OrderID
}

func (e *InProgressError) Error() string {
	return fmt.Sprintf("settlement of POT %s already in progress", e.ID)
}

func (e *InProgressError) Unwrap() error { return ErrState }

// DeliveredError reports a delivery check on an order whose units are
// already in the coordinator's custody.
type DeliveredError struct {
	ID    OrderID
	Units uint64
}

func (e *DeliveredError) Error() string {
	return fmt.Sprintf("Delivery for POT %s already confirmed. %d units held in custody.", e.ID, e.Units)
}

func (e *DeliveredError) Unwrap() error { return ErrState }

// Resource is the ledger quantity a funds check inspected.
type Resource string

const (
	ResourceAllowance       Resource = "allowance"
	ResourceReceiverBalance Resource = "receiver balance"
	ResourceCustodyBalance  Resource = "custody balance"
)

// InsufficientFundsError carries the observed value and the required minimum.
type InsufficientFundsError struct {
	ID       OrderID
	Resource Resource
	Observed uint64
	Required uint64
}

func (e *InsufficientFundsError) Error() string {
	switch e.Resource {
	case ResourceAllowance:
		return fmt.Sprintf("Allowance %d not sufficient to settle POT %s. Allowance of minimum %d needed.",
			e.Observed, e.ID, e.Required)
	case ResourceReceiverBalance:
		return fmt.Sprintf("Balance %d of receiver not sufficient to settle POT %s. Balance of minimum %d needed.",
			e.Observed, e.ID, e.Required)
	default:
		return fmt.Sprintf("AT-Balance %d not sufficient for delivery. Minimum %d needed.",
			e.Observed, e.Required)
	}
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// StalenessError reports a staleness-gated operation attempted too early.
type StalenessError struct {
	ID     OrderID
	Window time.Duration
	Age    time.Duration
}

func (e *StalenessError) Error() string {
	return fmt.Sprintf("POT %s is not older than %d hours.", e.ID, int64(e.Window/time.Hour))
}

func (e *StalenessError) Unwrap() error { return ErrStale }

// Kind returns the sentinel err wraps, or nil for errors outside the taxonomy.
func Kind(err error) error {
	for _, k := range []error{
		ErrUnauthorized, ErrState, ErrInsufficientFunds, ErrDuplicate, ErrStale,
		ErrPaused, ErrRange, ErrNotFound, ErrInvalid, ErrAlreadyInitialized, ErrUnsupported,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

package coordinator

import (
	"context"
	"fmt"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

const (
	VersionD2       = "D2"
	VersionUpgraded = "UPGRADED"
)

// Logic is a revision of the coordinator's settlement behavior. Every
// revision runs against the same State; the coordinator has already checked
// authorization, the pause flag and the in-flight guard when a method runs.
type Logic interface {
	Version() string
	CheckDeliveryForPot(ctx context.Context, c *Coordinator, id settlement.OrderID) error
	ExecuteDelivery(ctx context.Context, c *Coordinator, id settlement.OrderID) error
	CancelSettlement(ctx context.Context, c *Coordinator, id settlement.OrderID) error
	DeactivateOldPot(ctx context.Context, c *Coordinator, id settlement.OrderID) error
	FixFunction() (string, error)
}

// D2 is the initial revision.
type D2 struct{}

func (D2) Version() string { return VersionD2 }

func (D2) FixFunction() (string, error) {
	return "", fmt.Errorf("coordinator: fix function not available in %s: %w", VersionD2, settlement.ErrUnsupported)
}

// Upgraded keeps the D2 settlement flows and adds FixFunction.
type Upgraded struct {
	D2
}

func (Upgraded) Version() string { return VersionUpgraded }

func (Upgraded) FixFunction() (string, error) { return "new function", nil }

// LogicFor returns the revision tagged version. The empty tag selects D2.
func LogicFor(version string) (Logic, error) {
	switch version {
	case "", VersionD2:
		return D2{}, nil
	case VersionUpgraded:
		return Upgraded{}, nil
	default:
		return nil, fmt.Errorf("coordinator: unknown logic version %q: %w", version, settlement.ErrInvalid)
	}
}

package grpcx

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jcmexdev/dvp-settlement/internal/coordinator"
	"github.com/jcmexdev/dvp-settlement/internal/registry"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// maxExactFloat is the largest integer a JSON number carries exactly.
const maxExactFloat = 1 << 53

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

func addressField(in *structpb.Struct, name string) settlement.Address {
	return settlement.Address(stringField(in, name))
}

func requireID(in *structpb.Struct) (settlement.OrderID, error) {
	id := stringField(in, "id")
	if id == "" {
		return settlement.NoOrder, fmt.Errorf("field %q is required: %w", "id", settlement.ErrInvalid)
	}
	return settlement.OrderID(id), nil
}

// uintField accepts a non-negative integral number or a decimal string.
func uintField(in *structpb.Struct, name string) (uint64, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n < 0 || n != math.Trunc(n) || n > maxExactFloat {
			return 0, fmt.Errorf("field %q: %v is not an exact unsigned integer: %w", name, n, settlement.ErrInvalid)
		}
		return uint64(n), nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseUint(k.StringValue, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", name, settlement.ErrInvalid)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("field %q: unsupported kind %T: %w", name, k, settlement.ErrInvalid)
	}
}

func decimalField(in *structpb.Struct, name string) (decimal.Decimal, error) {
	v, ok := in.GetFields()[name]
	if !ok {
		return decimal.Zero, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(k.NumberValue), nil
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(k.StringValue)
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q: %w", name, settlement.ErrInvalid)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %q: unsupported kind %T: %w", name, k, settlement.ErrInvalid)
	}
}

func issueRequest(in *structpb.Struct) (registry.IssueRequest, error) {
	units, err := uintField(in, "units_required")
	if err != nil {
		return registry.IssueRequest{}, err
	}
	aux, err := uintField(in, "aux_detail")
	if err != nil {
		return registry.IssueRequest{}, err
	}
	amount, err := decimalField(in, "amount")
	if err != nil {
		return registry.IssueRequest{}, err
	}
	return registry.IssueRequest{
		Holder:        addressField(in, "holder"),
		ID:            settlement.OrderID(stringField(in, "id")),
		BusinessID:    stringField(in, "business_id"),
		UnitsRequired: units,
		AuxDetail:     aux,
		AuxAddress:    addressField(in, "aux_address"),
		LedgerRef:     addressField(in, "ledger_ref"),
		Currency:      stringField(in, "currency"),
		Amount:        amount,
		Sender:        addressField(in, "sender"),
		Receiver:      addressField(in, "receiver"),
	}, nil
}

// orderStruct encodes amounts as strings and counts as numbers.
func orderStruct(o registry.Order, baseURI string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":             string(o.ID),
		"business_id":    o.BusinessID,
		"units_required": o.UnitsRequired,
		"aux_detail":     o.AuxDetail,
		"aux_address":    string(o.AuxAddress),
		"ledger_ref":     string(o.LedgerRef),
		"currency":       o.Currency,
		"amount":         o.Amount.String(),
		"issued_amount":  o.IssuedAmount.String(),
		"sender":         string(o.Sender),
		"receiver":       string(o.Receiver),
		"status":         o.Status.String(),
		"holder":         string(o.Holder),
		"approved":       string(o.Approved),
		"mint_time":      o.MintTime.UTC().Format(time.RFC3339),
		"token_uri":      o.Snapshot(baseURI).LocatorURI,
	})
}

func coordinatorStruct(c *coordinator.Coordinator) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"address":      string(c.Address()),
		"admin":        string(c.Admin()),
		"registry_ref": string(c.RegistryRef()),
		"paused":       c.Paused(),
		"version":      c.Version(),
		"initialized":  c.Initialized(),
	})
}

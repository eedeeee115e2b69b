// Package settlement holds the vocabulary shared by the payment-order
// registry and the settlement coordinator: participant addresses, order ids,
// the order lifecycle, the error taxonomy and the events both components emit.
package settlement

import "strings"

// Address identifies a participant, a component custody account or a ledger
// instance. Addresses compare case-insensitively, the way hex account
// addresses do.
type Address string

// NoAddress is the zero address. Transfers from it are issuances.
const NoAddress Address = ""

// Normalize returns the canonical lower-case, trimmed form of a.
func (a Address) Normalize() Address {
	return Address(strings.ToLower(strings.TrimSpace(string(a))))
}

// Equal reports whether a and b name the same account.
func (a Address) Equal(b Address) bool {
	return a.Normalize() == b.Normalize()
}

func (a Address) IsZero() bool { return a.Normalize() == NoAddress }

func (a Address) String() string { return string(a) }

// OrderID is the caller supplied identifier of a payment order.
type OrderID string

// NoOrder is returned by lookups that find nothing.
const NoOrder OrderID = ""

func (id OrderID) String() string { return string(id) }

// Package eventlog is the append-only notification log of the settlement
// service.
//
// Every state change in the registry or the coordinator appends exactly one
// entry here. The log serves two purposes:
//
//  1. Audit: each row is immutable and carries the trace_id of the request
//     that produced it, so a settlement can be followed from the HTTP call
//     down to the ledger transfer.
//
//  2. Notification: after an entry is stored it is published on the Bus.
//     Off-system consumers (payment confirmation triggers, the coordinator's
//     watcher) subscribe instead of polling.
package eventlog

import (
	"time"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// Entry is a single row in the events table.
type Entry struct {
	// Seq is assigned by the repository on append and increases monotonically.
	Seq int64

	// EventID is a random UUID, stable across replicas of the log.
	EventID string

	// Source is the address of the emitting component (registry or coordinator).
	Source settlement.Address

	Name settlement.EventName

	// OrderID is empty for component-wide events such as Paused.
	OrderID settlement.OrderID

	// Payload is the JSON encoding of the event struct.
	Payload string

	// TraceID and SpanID come from the OpenTelemetry span active at emission.
	TraceID string
	SpanID  string

	EmittedAt time.Time
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	OrderID  settlement.OrderID
	Name     settlement.EventName
	AfterSeq int64
	Limit    int
}

func (f Filter) Match(e Entry) bool {
	if f.OrderID != settlement.NoOrder && e.OrderID != f.OrderID {
		return false
	}
	if f.Name != "" && e.Name != f.Name {
		return false
	}
	return e.Seq > f.AfterSeq
}

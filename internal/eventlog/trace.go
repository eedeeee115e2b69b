package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// TraceInfo holds the OTel identifiers extracted from a context.
type TraceInfo struct {
	// TraceID is the W3C trace ID (32 lowercase hex chars).
	// Empty string if no active span is found in the context.
	TraceID string

	// SpanID is the W3C span ID (16 lowercase hex chars).
	SpanID string
}

// ExtractTraceInfo reads the active OpenTelemetry span from ctx and returns
// its trace_id and span_id as hex strings. Without an active span (unit tests,
// the watcher goroutine) both fields are empty.
func ExtractTraceInfo(ctx context.Context) TraceInfo {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return TraceInfo{}
	}

	return TraceInfo{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	}
}

// NewEntry builds an Entry for ev with the trace info extracted from ctx.
// Seq is left zero for the repository to assign.
func NewEntry(ctx context.Context, source settlement.Address, ev settlement.Event) (*Entry, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("eventlog: encode %s: %w", ev.EventName(), err)
	}

	ti := ExtractTraceInfo(ctx)

	return &Entry{
		EventID:   uuid.NewString(),
		Source:    source,
		Name:      ev.EventName(),
		OrderID:   ev.Order(),
		Payload:   string(payload),
		TraceID:   ti.TraceID,
		SpanID:    ti.SpanID,
		EmittedAt: time.Now().UTC(),
	}, nil
}

// Decode turns a stored entry back into its typed event.
func Decode(e Entry) (settlement.Event, error) {
	var ev settlement.Event
	switch e.Name {
	case settlement.EventPaymentInitiated:
		ev = &settlement.PaymentInitiated{}
	case settlement.EventPaymentConfirmed:
		ev = &settlement.PaymentConfirmed{}
	case settlement.EventPotDeactivated:
		ev = &settlement.PotDeactivated{}
	case settlement.EventChangeFinalAmount:
		ev = &settlement.ChangeFinalAmount{}
	case settlement.EventDeliveryConfirmed:
		ev = &settlement.DeliveryConfirmed{}
	case settlement.EventDeliveryExecuted:
		ev = &settlement.DeliveryExecuted{}
	case settlement.EventSettlementCanceled:
		ev = &settlement.SettlementCanceled{}
	case settlement.EventTransfer:
		ev = &settlement.Transfer{}
	case settlement.EventApproval:
		ev = &settlement.Approval{}
	case settlement.EventApprovalForAll:
		ev = &settlement.ApprovalForAll{}
	case settlement.EventPaused:
		ev = &settlement.Paused{}
	case settlement.EventUnpaused:
		ev = &settlement.Unpaused{}
	case settlement.EventUpgraded:
		ev = &settlement.Upgraded{}
	default:
		return nil, fmt.Errorf("eventlog: decode: unknown event %q", e.Name)
	}

	if err := json.Unmarshal([]byte(e.Payload), ev); err != nil {
		return nil, fmt.Errorf("eventlog: decode %s #%d: %w", e.Name, e.Seq, err)
	}
	return ev, nil
}

package httpx

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/dvp-settlement/internal/coordinator"
	"github.com/jcmexdev/dvp-settlement/internal/eventlog"
	"github.com/jcmexdev/dvp-settlement/internal/registry"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

type IssueOrderRequest struct {
	Holder        string          `json:"holder"`
	ID            string          `json:"id"`
	BusinessID    string          `json:"business_id"`
	UnitsRequired uint64          `json:"units_required"`
	AuxDetail     uint64          `json:"aux_detail"`
	AuxAddress    string          `json:"aux_address"`
	LedgerRef     string          `json:"ledger_ref"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Sender        string          `json:"sender"`
	Receiver      string          `json:"receiver"`
}

type TransferOrderRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type ChangeAmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type ApproveRequest struct {
	Operator string `json:"operator"`
}

type OperatorRequest struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

type RegistryRefRequest struct {
	Registry string `json:"registry"`
}

type UpgradeRequest struct {
	Version string `json:"version"`
}

type OrderResponse struct {
	ID            string          `json:"id"`
	BusinessID    string          `json:"business_id"`
	UnitsRequired uint64          `json:"units_required"`
	AuxDetail     uint64          `json:"aux_detail"`
	AuxAddress    string          `json:"aux_address,omitempty"`
	LedgerRef     string          `json:"ledger_ref"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	IssuedAmount  decimal.Decimal `json:"issued_amount"`
	Sender        string          `json:"sender"`
	Receiver      string          `json:"receiver"`
	Status        string          `json:"status"`
	Holder        string          `json:"holder"`
	Approved      string          `json:"approved,omitempty"`
	MintTime      string          `json:"mint_time"`
	TokenURI      string          `json:"token_uri"`
}

type OrderIDsResponse struct {
	IDs []string `json:"ids"`
}

type RegistryResponse struct {
	Address string `json:"address"`
	Admin   string `json:"admin"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
	Paused  bool   `json:"paused"`
}

type CoordinatorResponse struct {
	Address     string `json:"address"`
	Admin       string `json:"admin"`
	RegistryRef string `json:"registry_ref"`
	Paused      bool   `json:"paused"`
	Version     string `json:"version"`
	Initialized bool   `json:"initialized"`
}

type FixFunctionResponse struct {
	Result string `json:"result"`
}

type EventResponse struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	Source    string          `json:"source"`
	Name      string          `json:"name"`
	OrderID   string          `json:"order_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	TraceID   string          `json:"trace_id,omitempty"`
	SpanID    string          `json:"span_id,omitempty"`
	EmittedAt string          `json:"emitted_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (req IssueOrderRequest) toDomain() registry.IssueRequest {
	return registry.IssueRequest{
		Holder:        settlement.Address(req.Holder),
		ID:            settlement.OrderID(req.ID),
		BusinessID:    req.BusinessID,
		UnitsRequired: req.UnitsRequired,
		AuxDetail:     req.AuxDetail,
		AuxAddress:    settlement.Address(req.AuxAddress),
		LedgerRef:     settlement.Address(req.LedgerRef),
		Currency:      req.Currency,
		Amount:        req.Amount,
		Sender:        settlement.Address(req.Sender),
		Receiver:      settlement.Address(req.Receiver),
	}
}

func mapOrderToResponse(o registry.Order, baseURI string) OrderResponse {
	return OrderResponse{
		ID:            string(o.ID),
		BusinessID:    o.BusinessID,
		UnitsRequired: o.UnitsRequired,
		AuxDetail:     o.AuxDetail,
		AuxAddress:    string(o.AuxAddress),
		LedgerRef:     string(o.LedgerRef),
		Currency:      o.Currency,
		Amount:        o.Amount,
		IssuedAmount:  o.IssuedAmount,
		Sender:        string(o.Sender),
		Receiver:      string(o.Receiver),
		Status:        o.Status.String(),
		Holder:        string(o.Holder),
		Approved:      string(o.Approved),
		MintTime:      o.MintTime.UTC().Format(time.RFC3339),
		TokenURI:      o.Snapshot(baseURI).LocatorURI,
	}
}

func mapCoordinatorToResponse(c *coordinator.Coordinator) CoordinatorResponse {
	return CoordinatorResponse{
		Address:     string(c.Address()),
		Admin:       string(c.Admin()),
		RegistryRef: string(c.RegistryRef()),
		Paused:      c.Paused(),
		Version:     c.Version(),
		Initialized: c.Initialized(),
	}
}

func mapEntries(entries []eventlog.Entry) []EventResponse {
	out := make([]EventResponse, len(entries))
	for i, e := range entries {
		out[i] = EventResponse{
			Seq:       e.Seq,
			EventID:   e.EventID,
			Source:    string(e.Source),
			Name:      string(e.Name),
			OrderID:   string(e.OrderID),
			Payload:   json.RawMessage(e.Payload),
			TraceID:   e.TraceID,
			SpanID:    e.SpanID,
			EmittedAt: e.EmittedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return out
}

func idStrings(ids []settlement.OrderID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

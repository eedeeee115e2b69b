package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/dvp-settlement/internal/coordinator"
	"github.com/jcmexdev/dvp-settlement/internal/eventlog"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors"
	"github.com/jcmexdev/dvp-settlement/internal/registry"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// Handler exposes the registry, the coordinator and the event log over HTTP.
// Every request acts as the address in the X-Caller-Address header.
type Handler struct {
	registry    *registry.Registry
	coordinator *coordinator.Coordinator
	events      *eventlog.Log
	logger      *slog.Logger
}

func NewHandler(reg *registry.Registry, coord *coordinator.Coordinator, events *eventlog.Log, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:    reg,
		coordinator: coord,
		events:      events,
		logger:      logger,
	}
}

// IssueOrder creates a payment order. Admin only.
func (h *Handler) IssueOrder(w http.ResponseWriter, r *http.Request) {
	var req IssueOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	caller := interceptors.CallerFromContext(r.Context())
	h.logger.InfoContext(r.Context(), "issuing payment order",
		"request_id", interceptors.RequestIDFromContext(r.Context()),
		"order_id", req.ID,
		"business_id", req.BusinessID,
	)

	order, err := h.registry.Issue(r.Context(), caller, req.toDomain())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapOrderToResponse(order, h.registry.BaseURI()))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.registry.Order(r.Context(), orderID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order, h.registry.BaseURI()))
}

// FindOrders resolves ?businessId= to at most one id or lists the ids held
// by ?owner= in holding order.
func (h *Handler) FindOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("businessId") != "":
		id, err := h.registry.TokenIDByBusinessID(r.Context(), q.Get("businessId"))
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		ids := []string{}
		if id != settlement.NoOrder {
			ids = append(ids, string(id))
		}
		writeJSON(w, http.StatusOK, OrderIDsResponse{IDs: ids})
	case q.Get("owner") != "":
		ids, err := h.registry.TokenIDsByOwner(r.Context(), settlement.Address(q.Get("owner")))
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, OrderIDsResponse{IDs: idStrings(ids)})
	default:
		writeError(w, http.StatusBadRequest, "query_required", "businessId or owner is required")
	}
}

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	h.orderCommand(w, r, h.registry.InitiatePayment)
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	h.orderCommand(w, r, h.registry.ConfirmPayment)
}

func (h *Handler) DeactivateOrder(w http.ResponseWriter, r *http.Request) {
	h.orderCommand(w, r, h.registry.Deactivate)
}

func (h *Handler) RetireOrder(w http.ResponseWriter, r *http.Request) {
	id := orderID(r)
	if err := h.registry.Retire(r.Context(), interceptors.CallerFromContext(r.Context()), id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) TransferOrder(w http.ResponseWriter, r *http.Request) {
	var req TransferOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := orderID(r)
	caller := interceptors.CallerFromContext(r.Context())
	err := h.registry.Transfer(r.Context(), caller, settlement.Address(req.From), settlement.Address(req.To), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if settlement.Address(req.To).Equal(h.registry.Address()) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.GetOrder(w, r)
}

func (h *Handler) ChangeAmount(w http.ResponseWriter, r *http.Request) {
	var req ChangeAmountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := interceptors.CallerFromContext(r.Context())
	if err := h.registry.ChangeAmount(r.Context(), caller, orderID(r), req.Amount); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.GetOrder(w, r)
}

func (h *Handler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := interceptors.CallerFromContext(r.Context())
	if err := h.registry.Approve(r.Context(), caller, orderID(r), settlement.Address(req.Operator)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.GetOrder(w, r)
}

func (h *Handler) SetOperator(w http.ResponseWriter, r *http.Request) {
	var req OperatorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := interceptors.CallerFromContext(r.Context())
	if err := h.registry.SetApprovalForAll(r.Context(), caller, settlement.Address(req.Operator), req.Approved); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetRegistry(w http.ResponseWriter, r *http.Request) {
	paused, err := h.registry.Paused(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RegistryResponse{
		Address: string(h.registry.Address()),
		Admin:   string(h.registry.Admin()),
		Name:    h.registry.Name(),
		Symbol:  h.registry.Symbol(),
		Paused:  paused,
	})
}

func (h *Handler) PauseRegistry(w http.ResponseWriter, r *http.Request) {
	h.registryCommand(w, r, h.registry.Pause)
}

func (h *Handler) UnpauseRegistry(w http.ResponseWriter, r *http.Request) {
	h.registryCommand(w, r, h.registry.Unpause)
}

func (h *Handler) orderCommand(w http.ResponseWriter, r *http.Request, cmd func(ctx context.Context, caller settlement.Address, id settlement.OrderID) error) {
	if err := cmd(r.Context(), interceptors.CallerFromContext(r.Context()), orderID(r)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.GetOrder(w, r)
}

func (h *Handler) registryCommand(w http.ResponseWriter, r *http.Request, cmd func(ctx context.Context, caller settlement.Address) error) {
	if err := cmd(r.Context(), interceptors.CallerFromContext(r.Context())); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.GetRegistry(w, r)
}

// writeDomainError maps err onto its status code. Server side failures are
// logged, client errors are not.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.ErrorContext(r.Context(), "request failed",
			"request_id", interceptors.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, err.Error())
}

func orderID(r *http.Request) settlement.OrderID {
	return settlement.OrderID(chi.URLParam(r, "id"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}

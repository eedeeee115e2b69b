package httpx

import (
	"context"
	"net/http"
	"strconv"

	"github.com/jcmexdev/dvp-settlement/internal/coordinator"
	"github.com/jcmexdev/dvp-settlement/internal/eventlog"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

// CheckDelivery pulls the order's units from the receiver into custody.
// Any caller may trigger it.
func (h *Handler) CheckDelivery(w http.ResponseWriter, r *http.Request) {
	h.settlementCommand(w, r, "check delivery", h.coordinator.CheckDeliveryForPot)
}

func (h *Handler) ExecuteDelivery(w http.ResponseWriter, r *http.Request) {
	h.settlementCommand(w, r, "execute delivery", h.coordinator.ExecuteDelivery)
}

func (h *Handler) CancelSettlement(w http.ResponseWriter, r *http.Request) {
	h.settlementCommand(w, r, "cancel settlement", h.coordinator.CancelSettlement)
}

func (h *Handler) DeactivateStale(w http.ResponseWriter, r *http.Request) {
	h.settlementCommand(w, r, "deactivate stale order", h.coordinator.DeactivateOldPot)
}

func (h *Handler) settlementCommand(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	cmd func(ctx context.Context, caller settlement.Address, id settlement.OrderID) error,
) {
	id := orderID(r)
	caller := interceptors.CallerFromContext(r.Context())
	h.logger.InfoContext(r.Context(), "settlement requested",
		"request_id", interceptors.RequestIDFromContext(r.Context()),
		"op", op,
		"order_id", id,
		"caller", caller,
	)
	if err := cmd(r.Context(), caller, id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.GetOrder(w, r)
}

func (h *Handler) GetCoordinator(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mapCoordinatorToResponse(h.coordinator))
}

func (h *Handler) InitializeCoordinator(w http.ResponseWriter, r *http.Request) {
	var req RegistryRefRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := interceptors.CallerFromContext(r.Context())
	if err := h.coordinator.Initialize(r.Context(), caller, settlement.Address(req.Registry)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.GetCoordinator(w, r)
}

func (h *Handler) SetRegistryRef(w http.ResponseWriter, r *http.Request) {
	var req RegistryRefRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	caller := interceptors.CallerFromContext(r.Context())
	if err := h.coordinator.SetRegistryRef(r.Context(), caller, settlement.Address(req.Registry)); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.GetCoordinator(w, r)
}

func (h *Handler) PauseCoordinator(w http.ResponseWriter, r *http.Request) {
	h.coordinatorCommand(w, r, h.coordinator.Pause)
}

func (h *Handler) UnpauseCoordinator(w http.ResponseWriter, r *http.Request) {
	h.coordinatorCommand(w, r, h.coordinator.Unpause)
}

// UpgradeCoordinator swaps the settlement logic to the named version.
func (h *Handler) UpgradeCoordinator(w http.ResponseWriter, r *http.Request) {
	var req UpgradeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	logic, err := coordinator.LogicFor(req.Version)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.coordinator.Upgrade(r.Context(), interceptors.CallerFromContext(r.Context()), logic); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.GetCoordinator(w, r)
}

func (h *Handler) FixFunction(w http.ResponseWriter, r *http.Request) {
	result, err := h.coordinator.FixFunction()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FixFunctionResponse{Result: result})
}

func (h *Handler) coordinatorCommand(w http.ResponseWriter, r *http.Request, cmd func(ctx context.Context, caller settlement.Address) error) {
	if err := cmd(r.Context(), interceptors.CallerFromContext(r.Context())); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.GetCoordinator(w, r)
}

// ListEvents returns the event log filtered by ?order_id=, ?name=, ?after=
// and ?limit=.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := eventlog.Filter{
		OrderID: settlement.OrderID(q.Get("order_id")),
		Name:    settlement.EventName(q.Get("name")),
	}
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil || after < 0 {
			writeError(w, http.StatusBadRequest, "invalid_after", "after must be a non-negative sequence number")
			return
		}
		f.AfterSeq = after
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}

	entries, err := h.events.List(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapEntries(entries))
}

package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/dvp-settlement/internal/api/httpx/middlewares"
)

// NewRouter mounts the handler. extra middlewares run after the tracing
// metadata is attached, so they can read the caller and idempotency key.
func NewRouter(handler *Handler, extra ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachTracingMetadata)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(extra...)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.IssueOrder)
		r.Get("/", handler.FindOrders)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.GetOrder)
			r.Post("/initiate", handler.InitiatePayment)
			r.Post("/confirm", handler.ConfirmPayment)
			r.Post("/deactivate", handler.DeactivateOrder)
			r.Post("/transfer", handler.TransferOrder)
			r.Post("/retire", handler.RetireOrder)
			r.Post("/amount", handler.ChangeAmount)
			r.Post("/approve", handler.ApproveOrder)
		})
	})

	r.Route("/registry", func(r chi.Router) {
		r.Get("/", handler.GetRegistry)
		r.Post("/pause", handler.PauseRegistry)
		r.Post("/unpause", handler.UnpauseRegistry)
		r.Put("/operators", handler.SetOperator)
	})

	r.Route("/settlements/{id}", func(r chi.Router) {
		r.Post("/check-delivery", handler.CheckDelivery)
		r.Post("/execute", handler.ExecuteDelivery)
		r.Post("/cancel", handler.CancelSettlement)
		r.Post("/deactivate-stale", handler.DeactivateStale)
	})

	r.Route("/coordinator", func(r chi.Router) {
		r.Get("/", handler.GetCoordinator)
		r.Post("/initialize", handler.InitializeCoordinator)
		r.Put("/registry", handler.SetRegistryRef)
		r.Post("/pause", handler.PauseCoordinator)
		r.Post("/unpause", handler.UnpauseCoordinator)
		r.Put("/version", handler.UpgradeCoordinator)
		r.Get("/fix-function", handler.FixFunction)
	})

	r.Get("/events", handler.ListEvents)
	return r
}

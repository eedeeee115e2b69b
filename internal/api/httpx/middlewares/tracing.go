package middlewares

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

const tracerName = "github.com/jcmexdev/dvp-settlement/internal/api/httpx"

// AttachTracingMetadata starts the server span for the request and stores
// the request id, idempotency key and caller address in the context. It
// must run after chi's RequestID middleware.
func AttachTracingMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer(tracerName).Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()

		ctx = interceptors.WithRequestMetadata(ctx,
			middleware.GetReqID(r.Context()),
			r.Header.Get(constants.HeaderXIdempotencyKey),
			settlement.Address(r.Header.Get(constants.HeaderXCallerAddress)),
		)
		w.Header().Set(constants.HeaderXRequestId, interceptors.RequestIDFromContext(ctx))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

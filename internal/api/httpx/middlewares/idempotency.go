package middlewares

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/dvp-settlement/internal/pkg/cache"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors/constants"
)

const pendingMarker = "pending"

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// Idempotency replays the stored response for a repeated X-Idempotency-Key
// on POST and PUT requests. The key is scoped to the caller and the path.
// Server errors are not stored, so the client can retry them. If the cache
// is unreachable requests are served without replay.
func Idempotency(c cache.Cache, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := interceptors.IdempotencyKeyFromContext(ctx)
			if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut) {
				next.ServeHTTP(w, r)
				return
			}

			caller := interceptors.CallerFromContext(ctx).Normalize()
			cacheKey := c.GenerateKey(r.Method+" "+r.URL.Path, string(caller)+":"+key)

			reserved, err := c.Reserve(ctx, cacheKey, pendingMarker, ttl)
			if err != nil {
				logger.WarnContext(ctx, "idempotency cache unavailable, serving without replay",
					"request_id", interceptors.RequestIDFromContext(ctx), "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				replay(ctx, w, c, cacheKey, logger)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			var body bytes.Buffer
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			// The request context may be gone once the response is written.
			storeCtx := context.WithoutCancel(ctx)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				if err := c.Delete(storeCtx, cacheKey); err != nil {
					logger.ErrorContext(ctx, "failed to release idempotency key", "key", cacheKey, "error", err)
				}
				return
			}
			payload, err := json.Marshal(storedResponse{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        body.String(),
			})
			if err == nil {
				err = c.Set(storeCtx, cacheKey, payload, ttl)
			}
			if err != nil {
				logger.ErrorContext(ctx, "failed to store idempotent response", "key", cacheKey, "error", err)
			}
		})
	}
}

func replay(ctx context.Context, w http.ResponseWriter, c cache.Cache, cacheKey string, logger *slog.Logger) {
	val, err := c.Get(ctx, cacheKey)
	if err != nil {
		logger.ErrorContext(ctx, "failed to read idempotent response", "key", cacheKey, "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "idempotency_unavailable", err.Error())
		return
	}
	if val == "" || val == pendingMarker {
		writeJSONError(w, http.StatusConflict, "idempotency_in_progress",
			"a request with this idempotency key is still being processed")
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(val), &stored); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "idempotency_corrupt", err.Error())
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(constants.HeaderXIdempotentReplayed, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write([]byte(stored.Body))
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}

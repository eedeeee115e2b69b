package middlewares

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/dvp-settlement/internal/pkg/cache"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

func TestAttachTracingMetadata(t *testing.T) {
	var seen context.Context
	h := middleware.RequestID(AttachTracingMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Context()
	})))

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("X-Request-Id", "req-7")
	req.Header.Set(constants.HeaderXIdempotencyKey, "idem-7")
	req.Header.Set(constants.HeaderXCallerAddress, "0xAdmin")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	assert.Equal(t, "req-7", interceptors.RequestIDFromContext(seen))
	assert.Equal(t, "idem-7", interceptors.IdempotencyKeyFromContext(seen))
	assert.Equal(t, settlement.Address("0xAdmin"), interceptors.CallerFromContext(seen))
	assert.Equal(t, "req-7", rec.Header().Get(constants.HeaderXRequestId))
}

type idemFixture struct {
	mr      *miniredis.Miniredis
	cache   cache.Cache
	calls   atomic.Int32
	status  atomic.Int32
	handler http.Handler
}

func newIdemFixture(t *testing.T) *idemFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &idemFixture{mr: mr, cache: cache.NewRedisCacheFromClient(client, "test")}
	f.status.Store(http.StatusCreated)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := f.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(f.status.Load()))
		_, _ = fmt.Fprintf(w, `{"call":%d}`, n)
	})
	f.handler = AttachTracingMetadata(Idempotency(f.cache, time.Hour, nil)(inner))
	return f
}

func (f *idemFixture) post(key, caller string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders/1/initiate", nil)
	if key != "" {
		req.Header.Set(constants.HeaderXIdempotencyKey, key)
	}
	req.Header.Set(constants.HeaderXCallerAddress, caller)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	f := newIdemFixture(t)

	first := f.post("k", "0xA")
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.JSONEq(t, `{"call":1}`, first.Body.String())

	second := f.post("k", "0xA")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, `{"call":1}`, second.Body.String())
	assert.Equal(t, "true", second.Header().Get(constants.HeaderXIdempotentReplayed))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), f.calls.Load())

	// Same key from another caller is a different request.
	f.post("k", "0xB")
	assert.Equal(t, int32(2), f.calls.Load())

	assert.True(t, f.mr.Exists(f.cache.GenerateKey("POST /orders/1/initiate", "0xa:k")))
}

func TestIdempotencySkipsRequestsWithoutKey(t *testing.T) {
	f := newIdemFixture(t)
	f.post("", "0xA")
	f.post("", "0xA")
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestIdempotencyPendingConflict(t *testing.T) {
	f := newIdemFixture(t)
	key := f.cache.GenerateKey("POST /orders/1/initiate", "0xa:k")
	ok, err := f.cache.Reserve(context.Background(), key, pendingMarker, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	rec := f.post("k", "0xA")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "idempotency_in_progress")
	assert.Zero(t, f.calls.Load())
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	f := newIdemFixture(t)
	f.status.Store(http.StatusInternalServerError)

	assert.Equal(t, http.StatusInternalServerError, f.post("k", "0xA").Code)
	assert.False(t, f.mr.Exists(f.cache.GenerateKey("POST /orders/1/initiate", "0xa:k")))

	f.status.Store(http.StatusOK)
	assert.Equal(t, http.StatusOK, f.post("k", "0xA").Code)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestIdempotencyFailsOpenWhenCacheDown(t *testing.T) {
	f := newIdemFixture(t)
	f.mr.Close()

	assert.Equal(t, http.StatusCreated, f.post("k", "0xA").Code)
	assert.Equal(t, http.StatusCreated, f.post("k", "0xA").Code)
	assert.Equal(t, int32(2), f.calls.Load())
}

package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/dvp-settlement/internal/api/httpx/middlewares"
	"github.com/jcmexdev/dvp-settlement/internal/coordinator"
	"github.com/jcmexdev/dvp-settlement/internal/eventlog"
	"github.com/jcmexdev/dvp-settlement/internal/ledger"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/cache"
	"github.com/jcmexdev/dvp-settlement/internal/pkg/interceptors/constants"
	"github.com/jcmexdev/dvp-settlement/internal/registry"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

const (
	admin    = "0xAdmin"
	dvpAddr  = "0xDvP"
	potAddr  = "0xPOT"
	atAddr   = "0xAT"
	sender   = "0xSender"
	receiver = "0xReceiver"
	stranger = "0xStranger"
)

type fixture struct {
	t      *testing.T
	at     *ledger.Memory
	events *eventlog.Log
	router http.Handler
}

func newFixture(t *testing.T, extra ...func(http.Handler) http.Handler) *fixture {
	t.Helper()
	ctx := context.Background()

	events := eventlog.New(eventlog.NewMemoryRepository(), eventlog.NewBus(nil), nil)
	reg := registry.New(registry.Config{
		Address: potAddr,
		Admin:   admin,
		Name:    "Payment Order Token",
		Symbol:  "POT",
		BaseURI: "localhost/",
	}, registry.NewMemoryStore(), events)

	regs := coordinator.NewRegistryDirectory()
	regs.Register(potAddr, reg)
	at := ledger.NewMemory()
	ledgers := ledger.NewDirectory()
	ledgers.Register(atAddr, at)

	coord, err := coordinator.New(ctx, coordinator.Config{Address: dvpAddr, Admin: admin},
		coordinator.NewMemoryStateStore(), regs, ledgers, events)
	require.NoError(t, err)
	require.NoError(t, coord.Initialize(ctx, admin, potAddr))

	return &fixture{
		t:      t,
		at:     at,
		events: events,
		router: NewRouter(NewHandler(reg, coord, events, nil), extra...),
	}
}

func (f *fixture) do(method, path, caller string, body any, headers ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(constants.HeaderXCallerAddress, caller)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) issue(id, holder string) OrderResponse {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/orders", admin, issueBody(id, holder))
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[OrderResponse](f.t, rec)
}

func issueBody(id, holder string) IssueOrderRequest {
	return IssueOrderRequest{
		Holder:        holder,
		ID:            id,
		BusinessID:    "Deal_" + id,
		UnitsRequired: 2,
		AuxDetail:     3,
		LedgerRef:     atAddr,
		Currency:      "EUR",
		Amount:        decimal.NewFromInt(25),
		Sender:        sender,
		Receiver:      receiver,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestIssueOrder(t *testing.T) {
	f := newFixture(t)

	order := f.issue("1", dvpAddr)
	assert.Equal(t, "1", order.ID)
	assert.Equal(t, "Issued", order.Status)
	assert.Equal(t, dvpAddr, order.Holder)
	assert.Equal(t, "localhost/1", order.TokenURI)
	assert.True(t, decimal.NewFromInt(25).Equal(order.Amount))

	rec := f.do(http.MethodPost, "/orders", stranger, issueBody("2", dvpAddr))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", decode[ErrorResponse](t, rec).Error)

	rec = f.do(http.MethodPost, "/orders", admin, issueBody("1", dvpAddr))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate", decode[ErrorResponse](t, rec).Error)

	body := issueBody("3", dvpAddr)
	body.Amount = decimal.NewFromInt(-1)
	rec = f.do(http.MethodPost, "/orders", admin, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decode[ErrorResponse](t, rec).Error)
}

func TestFindOrders(t *testing.T) {
	f := newFixture(t)
	f.issue("1", sender)
	f.issue("2", sender)

	rec := f.do(http.MethodGet, "/orders?businessId=Deal_2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2"}, decode[OrderIDsResponse](t, rec).IDs)

	rec = f.do(http.MethodGet, "/orders?businessId=Deal_404", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ids":[]}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/orders?owner="+sender, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"1", "2"}, decode[OrderIDsResponse](t, rec).IDs)

	rec = f.do(http.MethodGet, "/orders?owner="+stranger, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[OrderIDsResponse](t, rec).IDs)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/orders", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/orders/404", "", nil).Code)
}

func TestOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	f.issue("1", sender)

	rec := f.do(http.MethodPost, "/orders/1/confirm", admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Message, "POT 1 does not have status 'Payment Initiated'.")

	rec = f.do(http.MethodPost, "/orders/1/initiate", stranger, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/orders/1/initiate", sender, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PaymentInitiated", decode[OrderResponse](t, rec).Status)

	rec = f.do(http.MethodPost, "/orders/1/amount", admin, ChangeAmountRequest{Amount: decimal.NewFromInt(20)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/orders/1/amount", receiver, ChangeAmountRequest{Amount: decimal.NewFromInt(20)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decimal.NewFromInt(20).Equal(decode[OrderResponse](t, rec).Amount))

	rec = f.do(http.MethodPost, "/orders/1/amount", receiver, ChangeAmountRequest{Amount: decimal.NewFromInt(26)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "amount_out_of_range", decode[ErrorResponse](t, rec).Error)

	rec = f.do(http.MethodPost, "/orders/1/transfer", sender, TransferOrderRequest{From: sender, To: receiver})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, receiver, decode[OrderResponse](t, rec).Holder)

	rec = f.do(http.MethodPost, "/orders/1/confirm", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PaymentConfirmed", decode[OrderResponse](t, rec).Status)

	rec = f.do(http.MethodPost, "/orders/1/deactivate", receiver, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Deactivated", decode[OrderResponse](t, rec).Status)

	rec = f.do(http.MethodPost, "/orders/1/retire", receiver, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/orders/1", "", nil).Code)
}

func TestApprovals(t *testing.T) {
	f := newFixture(t)
	f.issue("1", sender)

	rec := f.do(http.MethodPost, "/orders/1/approve", sender, ApproveRequest{Operator: stranger})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, stranger, decode[OrderResponse](t, rec).Approved)

	rec = f.do(http.MethodPut, "/registry/operators", sender, OperatorRequest{Operator: receiver, Approved: true})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/orders/1/initiate", receiver, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRegistryPause(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/registry/pause", stranger, nil).Code)

	rec := f.do(http.MethodPost, "/registry/pause", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[RegistryResponse](t, rec).Paused)

	rec = f.do(http.MethodPost, "/orders", admin, issueBody("1", sender))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "paused", decode[ErrorResponse](t, rec).Error)

	rec = f.do(http.MethodPost, "/registry/unpause", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[RegistryResponse](t, rec).Paused)

	rec = f.do(http.MethodGet, "/registry", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[RegistryResponse](t, rec)
	assert.Equal(t, "POT", info.Symbol)
	assert.Equal(t, potAddr, info.Address)
}

func TestSettlementFlow(t *testing.T) {
	f := newFixture(t)
	f.issue("1", dvpAddr)

	rec := f.do(http.MethodPost, "/settlements/1/check-delivery", stranger, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Message,
		"Allowance 0 not sufficient to settle POT 1. Allowance of minimum 2 needed.")

	f.at.IncreaseAllowance(receiver, dvpAddr, 111)
	f.at.Mint(receiver, 7)
	rec = f.do(http.MethodPost, "/settlements/1/check-delivery", stranger, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Issued", decode[OrderResponse](t, rec).Status)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/orders/1/initiate", admin, nil).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/orders/1/confirm", admin, nil).Code)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/settlements/1/execute", stranger, nil).Code)

	rec = f.do(http.MethodPost, "/settlements/1/execute", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Deactivated", decode[OrderResponse](t, rec).Status)

	balance, err := f.at.BalanceOf(context.Background(), sender)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), balance)

	rec = f.do(http.MethodPost, "/settlements/1/cancel", admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/settlements/1/deactivate-stale", admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeactivateStaleTooEarly(t *testing.T) {
	f := newFixture(t)
	f.issue("1", dvpAddr)

	rec := f.do(http.MethodPost, "/settlements/1/deactivate-stale", admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "not_stale", resp.Error)
	assert.Contains(t, resp.Message, "POT 1 is not older than 96 hours.")
}

func TestCoordinatorAdministration(t *testing.T) {
	f := newFixture(t)
	f.issue("1", dvpAddr)

	rec := f.do(http.MethodGet, "/coordinator", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[CoordinatorResponse](t, rec)
	assert.Equal(t, potAddr, info.RegistryRef)
	assert.Equal(t, coordinator.VersionD2, info.Version)
	assert.True(t, info.Initialized)

	rec = f.do(http.MethodPost, "/coordinator/initialize", admin, RegistryRefRequest{Registry: potAddr})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_initialized", decode[ErrorResponse](t, rec).Error)

	rec = f.do(http.MethodPost, "/coordinator/pause", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[CoordinatorResponse](t, rec).Paused)

	rec = f.do(http.MethodPost, "/settlements/1/check-delivery", stranger, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/coordinator/unpause", admin, nil).Code)

	rec = f.do(http.MethodGet, "/coordinator/fix-function", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported", decode[ErrorResponse](t, rec).Error)

	rec = f.do(http.MethodPut, "/coordinator/version", admin, UpgradeRequest{Version: coordinator.VersionUpgraded})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, coordinator.VersionUpgraded, decode[CoordinatorResponse](t, rec).Version)

	rec = f.do(http.MethodGet, "/coordinator/fix-function", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new function", decode[FixFunctionResponse](t, rec).Result)

	rec = f.do(http.MethodPut, "/coordinator/version", admin, UpgradeRequest{Version: "V9"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/coordinator/registry", stranger, RegistryRefRequest{Registry: "0xOther"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	f.issue("1", sender)
	f.issue("2", sender)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/orders/2/initiate", sender, nil).Code)

	rec := f.do(http.MethodGet, "/events?order_id=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]EventResponse](t, rec)
	require.Len(t, events, 2)
	assert.Equal(t, string(settlement.EventTransfer), events[0].Name)
	assert.Equal(t, string(settlement.EventPaymentInitiated), events[1].Name)
	assert.Equal(t, potAddr, events[1].Source)

	var snapshot settlement.OrderSnapshot
	require.NoError(t, json.Unmarshal(events[1].Payload, &snapshot))
	assert.Equal(t, settlement.OrderID("2"), snapshot.ID)

	rec = f.do(http.MethodGet, "/events?name=Transfer&limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]EventResponse](t, rec), 1)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/events?after=x", "", nil).Code)
}

func TestIdempotentIssue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := cache.NewRedisCacheFromClient(client, "settlement-test")
	f := newFixture(t, middlewares.Idempotency(c, 0, nil))

	first := f.do(http.MethodPost, "/orders", admin, issueBody("1", sender), constants.HeaderXIdempotencyKey, "k-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Empty(t, first.Header().Get(constants.HeaderXIdempotentReplayed))

	second := f.do(http.MethodPost, "/orders", admin, issueBody("1", sender), constants.HeaderXIdempotencyKey, "k-1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(constants.HeaderXIdempotentReplayed))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	third := f.do(http.MethodPost, "/orders", admin, issueBody("1", sender), constants.HeaderXIdempotencyKey, "k-2")
	assert.Equal(t, http.StatusConflict, third.Code)

	transfers, err := f.events.List(context.Background(), eventlog.Filter{Name: settlement.EventTransfer})
	require.NoError(t, err)
	assert.Len(t, transfers, 1)
}

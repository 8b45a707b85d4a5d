package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	d "github.com/fjod/go_market/domain"
	r "github.com/fjod/go_market/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(svc *MockCheckoutService) *CheckoutHandler {
	return NewCheckoutHandler(svc, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func withUser(req *http.Request) *http.Request {
	return req.WithContext(withUserID(req.Context(), 42))
}

func withOrderID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("order_id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

const beginBody = `{"email":"ada@example.com","first_name":"Ada","last_name":"Lovelace","address_line1":"1 Row","city":"Lagos","country":"NG"}`

func TestBegin_Accepted(t *testing.T) {
	orderID := uuid.New()
	svc := &MockCheckoutService{BeginOut: &d.BeginAccepted{
		PublicKey:       "pk_test",
		PaymentProvider: "reference",
		OrderID:         orderID,
		OrderNumber:     "ORD-20260115093000-7KQ2MX",
		Amount:          decimal.RequireFromString("15005.50"),
		Currency:        "NGN",
		BaseAmount:      decimal.RequireFromString("10.00"),
		BaseCurrency:    "USD",
		FxRate:          decimal.RequireFromString("1500.55"),
		CouponNotice:    &d.CouponNotice{Code: "OLD", Reason: d.CouponExpired},
	}}
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/checkout/begin", strings.NewReader(beginBody)))
	req.Header.Set("CF-IPCountry", "ng")
	rec := httptest.NewRecorder()

	newHandler(svc).Begin(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, orderID.String(), body["order_id"])
	assert.Equal(t, "15005.5", body["amount"])
	assert.Equal(t, float64(1500550), body["amount_minor"])
	assert.Equal(t, map[string]any{"code": "OLD", "reason": "expired"}, body["coupon_notice"])

	require.NotNil(t, svc.BeginReq)
	assert.Equal(t, int64(42), svc.BeginReq.UserID)
	assert.Equal(t, "NG", svc.BeginReq.ViewerCountry)
	assert.Equal(t, "Ada", svc.BeginReq.Buyer.FirstName)
	assert.Equal(t, "1 Row", svc.BeginReq.Buyer.Line1)
	assert.Nil(t, svc.BeginReq.ExistingOrderID)
}

func TestBegin_PassesExistingOrderID(t *testing.T) {
	existing := uuid.New()
	svc := &MockCheckoutService{BeginOut: &d.BeginAccepted{OrderID: existing, Resumed: true}}
	payload := strings.Replace(beginBody, `{`, `{"existing_order_id":"`+existing.String()+`",`, 1)
	rec := httptest.NewRecorder()

	newHandler(svc).Begin(rec, withUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.BeginReq.ExistingOrderID)
	assert.Equal(t, existing, *svc.BeginReq.ExistingOrderID)
	assert.Equal(t, true, decode(t, rec)["resumed"])
}

func TestBegin_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		out      *d.BeginRejected
		wantCode int
	}{
		{"validation", &d.BeginRejected{Kind: d.KindValidation, Reason: d.ReasonInvalidFields, Errors: map[string]string{"email": "Email is required."}}, http.StatusUnprocessableEntity},
		{"availability", &d.BeginRejected{Kind: d.KindAvailability, Reason: d.ReasonUnavailableItems, RemovedItems: []string{"Old Course"}}, http.StatusConflict},
		{"provider", &d.BeginRejected{Kind: d.KindProvider, Reason: d.ReasonCurrencyNotSupported}, http.StatusPaymentRequired},
		{"transient", &d.BeginRejected{Kind: d.KindTransient, Reason: d.ReasonCheckoutFailed}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockCheckoutService{BeginOut: tt.out}
			rec := httptest.NewRecorder()

			newHandler(svc).Begin(rec, withUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(beginBody))))

			assert.Equal(t, tt.wantCode, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.out.Reason, body["reason"])
			assert.Equal(t, string(tt.out.Kind), body["kind"])
		})
	}
}

func TestBegin_BadRequests(t *testing.T) {
	svc := &MockCheckoutService{}
	h := newHandler(svc)

	rec := httptest.NewRecorder()
	h.Begin(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(beginBody)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Begin(rec, withUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Begin(rec, withUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"existing_order_id":"nope"}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_order_id", decode(t, rec)["code"])

	assert.Zero(t, svc.BeginCalls)
}

func TestBegin_ServiceError(t *testing.T) {
	svc := &MockCheckoutService{Err: assert.AnError}
	rec := httptest.NewRecorder()

	newHandler(svc).Begin(rec, withUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(beginBody))))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestFinalize_Success(t *testing.T) {
	orderID := uuid.New()
	svc := &MockCheckoutService{FinalizeOut: &d.FinalizeSucceeded{OrderNumber: "ORD-1", Message: "ok", Settled: true}}
	payload := `{"order_id":"` + orderID.String() + `","status":"SUCCESS","reference":"ref-1","payload":{"status":"success","id":7},"email":"a@b.co"}`
	rec := httptest.NewRecorder()

	newHandler(svc).Finalize(rec, withUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["settled"])
	assert.Equal(t, "ORD-1", body["order_number"])

	require.NotNil(t, svc.FinalizeReq)
	assert.Equal(t, orderID, svc.FinalizeReq.OrderID)
	assert.Equal(t, d.FinalizeSuccess, svc.FinalizeReq.Status)
	assert.Equal(t, "ref-1", svc.FinalizeReq.Reference)
	assert.JSONEq(t, `{"status":"success","id":7}`, string(svc.FinalizeReq.Payload))
	assert.Equal(t, "a@b.co", svc.FinalizeReq.Email)
}

func TestFinalize_Failed(t *testing.T) {
	svc := &MockCheckoutService{FinalizeOut: &d.FinalizeFailed{
		OrderNumber: "ORD-1",
		Kind:        d.KindFatalConsistency,
		Reason:      d.ReasonInsufficientStockAtSettlement,
		Message:     "sold out",
	}}
	payload := `{"order_id":"` + uuid.NewString() + `","status":"success"}`
	rec := httptest.NewRecorder()

	newHandler(svc).Finalize(rec, withUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))))

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "ORD-1", body["order_number"])
	assert.Equal(t, d.ReasonInsufficientStockAtSettlement, body["reason"])
}

func TestFinalize_OrderNotFoundIs404(t *testing.T) {
	svc := &MockCheckoutService{FinalizeOut: &d.FinalizeFailed{Kind: d.KindValidation, Reason: d.ReasonOrderNotFound}}
	payload := `{"order_id":"` + uuid.NewString() + `","status":"error"}`
	rec := httptest.NewRecorder()

	newHandler(svc).Finalize(rec, withUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, d.FinalizeError, svc.FinalizeReq.Status)
}

func TestFinalize_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		code    string
	}{
		{"bad json", `{`, "invalid_request"},
		{"bad order id", `{"order_id":"x","status":"success"}`, "invalid_order_id"},
		{"cancel is not a finalize status", `{"order_id":"` + uuid.NewString() + `","status":"cancelled"}`, "invalid_status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockCheckoutService{}
			rec := httptest.NewRecorder()
			newHandler(svc).Finalize(rec, withUser(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec)["code"])
			assert.Nil(t, svc.FinalizeReq)
		})
	}
}

func TestGetOrder(t *testing.T) {
	id := uuid.New()
	settledAt := time.Date(2026, 1, 15, 9, 31, 0, 0, time.UTC)
	order := &d.Order{
		ID:            id,
		OrderNumber:   "ORD-20260115093000-7KQ2MX",
		OrderStatus:   d.OrderStatusSuccessful,
		PaymentStatus: d.PaymentStatusSuccessful,
		Total:         decimal.RequireFromString("50"),
		Items: []d.OrderItem{
			{ProductID: 101, Name: "Ebook", Quantity: 2, Price: decimal.RequireFromString("25"), DownloadURL: "https://cdn/x.pdf"},
		},
		CreatedAt: settledAt.Add(-time.Minute),
		SettledAt: &settledAt,
	}
	svc := &MockCheckoutService{Order: order}
	rec := httptest.NewRecorder()

	newHandler(svc).GetOrder(rec, withOrderID(withUser(httptest.NewRequest(http.MethodGet, "/", nil)), id.String()))

	require.Equal(t, http.StatusOK, rec.Code)
	var dto OrderResponseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dto))
	assert.Equal(t, id.String(), dto.ID)
	assert.Equal(t, "2026-01-15T09:31:00Z", dto.SettledAt)
	require.Len(t, dto.Items, 1)
	assert.Equal(t, "https://cdn/x.pdf", dto.Items[0].DownloadURL)
	assert.Equal(t, int64(42), svc.GetUserID)
}

func TestGetOrder_PendingHidesDownloads(t *testing.T) {
	order := &d.Order{
		ID:          uuid.New(),
		OrderStatus: d.OrderStatusPending,
		Items:       []d.OrderItem{{ProductID: 101, DownloadURL: "https://cdn/x.pdf"}},
	}
	rec := httptest.NewRecorder()

	newHandler(&MockCheckoutService{Order: order}).GetOrder(rec, withOrderID(withUser(httptest.NewRequest(http.MethodGet, "/", nil)), order.ID.String()))

	var dto OrderResponseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&dto))
	assert.Empty(t, dto.Items[0].DownloadURL)
}

func TestGetOrder_Errors(t *testing.T) {
	rec := httptest.NewRecorder()
	newHandler(&MockCheckoutService{}).GetOrder(rec, withOrderID(withUser(httptest.NewRequest(http.MethodGet, "/", nil)), "bad"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	newHandler(&MockCheckoutService{Err: r.ErrOrderNotFound}).GetOrder(rec, withOrderID(withUser(httptest.NewRequest(http.MethodGet, "/", nil)), uuid.NewString()))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	newHandler(&MockCheckoutService{Err: assert.AnError}).GetOrder(rec, withOrderID(withUser(httptest.NewRequest(http.MethodGet, "/", nil)), uuid.NewString()))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

package payment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	d "github.com/fjod/go_market/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOrder() *d.Order {
	return &d.Order{
		ID:                uuid.MustParse("6f1c2a4e-8b0d-4f6a-9c3e-1d2b3c4d5e6f"),
		OrderNumber:       "ORD-20260115093000-7KQ2MX",
		PaidAmount:        decimal.RequireFromString("15005.50"),
		PaidCurrency:      "NGN",
		ProviderReference: "ORD-20260115093000-7KQ2MX-1768469400000",
	}
}

func verifyBody(status, reference string, amount int64, currency, orderID string) string {
	return fmt.Sprintf(`{"status":true,"message":"Verification successful","data":{"status":%q,"reference":%q,"amount":%d,"currency":%q,"metadata":{"order_id":%q}}}`,
		status, reference, amount, currency, orderID)
}

func setupReference(t *testing.T, handler http.HandlerFunc) *ReferenceProvider {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewReferenceProvider(ReferenceConfig{
		PublicKey: "pk_test",
		SecretKey: "sk_test",
		BaseURL:   srv.URL + "/",
	}, srv.Client(), discardLogger())
}

func TestReferenceInitiate(t *testing.T) {
	p := NewReferenceProvider(ReferenceConfig{PublicKey: "pk_test"}, http.DefaultClient, discardLogger())
	p.now = func() time.Time { return time.UnixMilli(1768469400000) }

	initiation, err := p.Initiate(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260115093000-7KQ2MX-1768469400000", initiation.Reference)
	assert.Equal(t, "pk_test", initiation.PublicKey)

	_, err = p.Initiate(context.Background(), &d.Order{})
	assert.Error(t, err)
}

func TestReferenceSupports(t *testing.T) {
	p := NewReferenceProvider(ReferenceConfig{}, http.DefaultClient, discardLogger())
	assert.True(t, p.Supports("ngn"))
	assert.True(t, p.Supports("USD"))
	assert.False(t, p.Supports("EUR"))

	p = NewReferenceProvider(ReferenceConfig{Currencies: []string{"eur"}}, http.DefaultClient, discardLogger())
	assert.True(t, p.Supports("EUR"))
	assert.False(t, p.Supports("NGN"))
}

func TestReferenceVerify_Settled(t *testing.T) {
	order := testOrder()
	p := setupReference(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/"+order.ProviderReference, r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(verifyBody("success", order.ProviderReference, 1500550, "NGN", order.ID.String())))
	})

	v, err := p.Verify(context.Background(), VerifyRequest{Order: order, Reference: order.ProviderReference})
	require.NoError(t, err)
	assert.True(t, v.Settled)
	assert.Equal(t, "15005.5", v.Amount.String())
	assert.Equal(t, "NGN", v.Currency)
}

func TestReferenceVerify_Mismatches(t *testing.T) {
	order := testOrder()
	tests := []struct {
		name string
		body string
	}{
		{"amount", verifyBody("success", order.ProviderReference, 1500549, "NGN", order.ID.String())},
		{"currency", verifyBody("success", order.ProviderReference, 1500550, "USD", order.ID.String())},
		{"order id", verifyBody("success", order.ProviderReference, 1500550, "NGN", uuid.NewString())},
		{"reference", verifyBody("success", "someone-else", 1500550, "NGN", order.ID.String())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := setupReference(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			v, err := p.Verify(context.Background(), VerifyRequest{Order: order})
			assert.ErrorIs(t, err, ErrVerificationMismatch)
			assert.False(t, v.Settled)
		})
	}
}

func TestReferenceVerify_Declined(t *testing.T) {
	order := testOrder()
	p := setupReference(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(verifyBody("abandoned", order.ProviderReference, 1500550, "NGN", order.ID.String())))
	})

	_, err := p.Verify(context.Background(), VerifyRequest{Order: order})
	assert.ErrorIs(t, err, ErrPaymentDeclined)
}

func TestReferenceVerify_PendingIsNotSettled(t *testing.T) {
	order := testOrder()
	p := setupReference(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(verifyBody("ongoing", order.ProviderReference, 1500550, "NGN", order.ID.String())))
	})

	v, err := p.Verify(context.Background(), VerifyRequest{Order: order})
	require.NoError(t, err)
	assert.False(t, v.Settled)
	assert.Equal(t, "ongoing", v.Status)
}

func TestReferenceVerify_NotFoundIsDeclined(t *testing.T) {
	p := setupReference(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	})

	_, err := p.Verify(context.Background(), VerifyRequest{Order: testOrder()})
	assert.ErrorIs(t, err, ErrPaymentDeclined)
}

func TestReferenceVerify_NotFoundWithoutJSONIsDeclined(t *testing.T) {
	p := setupReference(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<html><body>404 Not Found</body></html>`))
	})

	_, err := p.Verify(context.Background(), VerifyRequest{Order: testOrder()})
	assert.ErrorIs(t, err, ErrPaymentDeclined)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)
}

func TestReferenceVerify_ZeroDecimalCurrency(t *testing.T) {
	order := testOrder()
	order.PaidAmount = decimal.RequireFromString("37123")
	order.PaidCurrency = "UGX"
	p := setupReference(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(verifyBody("success", order.ProviderReference, 37123, "UGX", order.ID.String())))
	})

	v, err := p.Verify(context.Background(), VerifyRequest{Order: order})
	require.NoError(t, err)
	assert.True(t, v.Settled)
	assert.Equal(t, "37123", v.Amount.String())
}

func TestReferenceVerify_ServerErrorIsTransient(t *testing.T) {
	var hits int32
	p := setupReference(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for i := 0; i < 7; i++ {
		_, err := p.Verify(context.Background(), VerifyRequest{Order: testOrder()})
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
}

func TestReferenceVerify_MissingReference(t *testing.T) {
	p := NewReferenceProvider(ReferenceConfig{}, http.DefaultClient, discardLogger())
	_, err := p.Verify(context.Background(), VerifyRequest{Order: &d.Order{}})
	assert.ErrorIs(t, err, ErrVerificationMismatch)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1050), MinorUnits(decimal.RequireFromString("10.50"), "USD"))
	assert.Equal(t, int64(1001), MinorUnits(decimal.RequireFromString("10.005"), "usd"))
	assert.Equal(t, int64(1500), MinorUnits(decimal.RequireFromString("1500"), "JPY"))
}

func TestCheckCharge(t *testing.T) {
	p := NewCallbackProvider(CallbackConfig{})
	assert.NoError(t, CheckCharge(p, "EUR", decimal.RequireFromString("1")))
	assert.ErrorIs(t, CheckCharge(p, "JPY", decimal.RequireFromString("1")), ErrCurrencyNotSupported)
	assert.ErrorIs(t, CheckCharge(p, "EUR", decimal.Zero), ErrInvalidAmount)
}

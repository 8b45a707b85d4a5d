package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	m := New()

	m.BeginOutcome("accepted")
	m.BeginOutcome("accepted")
	m.BeginOutcome("EMPTY_CART")
	m.FinalizeOutcome("settled")
	m.ProviderVerify("reference", "mismatch")
	m.FxFallback("NGN")
	m.ObserveStage("begin", 120*time.Millisecond)
	m.ExpiredRows("orders", 3)
	m.OutboxPending(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Begins.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Begins.WithLabelValues("EMPTY_CART")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Finalizes.WithLabelValues("settled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues("reference", "mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FxFallbacks.WithLabelValues("NGN")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Expired.WithLabelValues("orders")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.OutboxLag))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Stages))
}

func TestSeparateInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/orders/{order_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("/api/v1/orders/{order_id}", "404")))
}

func TestHandlerExposesCheckoutMetrics(t *testing.T) {
	m := New()
	m.BeginOutcome("accepted")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `checkout_begin_total{outcome="accepted"} 1`))
}

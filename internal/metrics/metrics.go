package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkout"

// CheckoutMetrics owns its registry so several instances can live in one test binary.
type CheckoutMetrics struct {
	registry *prometheus.Registry

	Begins        *prometheus.CounterVec
	Finalizes     *prometheus.CounterVec
	FxFallbacks   *prometheus.CounterVec
	Verifications *prometheus.CounterVec
	Stages        *prometheus.HistogramVec
	Requests      *prometheus.CounterVec
	LatencyMS     *prometheus.HistogramVec
	OutboxLag     prometheus.Gauge
	Expired       *prometheus.CounterVec
}

func New() *CheckoutMetrics {
	m := &CheckoutMetrics{
		registry: prometheus.NewRegistry(),
		Begins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "begin_total",
			Help:      "Begin checkout calls by outcome.",
		}, []string{"outcome"}),
		Finalizes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_total",
			Help:      "Finalize calls by outcome.",
		}, []string{"outcome"}),
		FxFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fx_fallback_total",
			Help:      "Charge currencies skipped because no usable FX rate was found.",
		}, []string{"from"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_verify_total",
			Help:      "Payment provider verification results.",
		}, []string{"provider", "result"}),
		Stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each checkout stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		OutboxLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending_events",
			Help:      "Outbox events fetched but not yet published in the last poll.",
		}),
		Expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_total",
			Help:      "Rows closed by the recovery sweep.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Begins, m.Finalizes, m.FxFallbacks, m.Verifications, m.Stages,
		m.Requests, m.LatencyMS, m.OutboxLag, m.Expired,
	)
	return m
}

func (m *CheckoutMetrics) BeginOutcome(outcome string) {
	m.Begins.WithLabelValues(outcome).Inc()
}

func (m *CheckoutMetrics) FinalizeOutcome(outcome string) {
	m.Finalizes.WithLabelValues(outcome).Inc()
}

func (m *CheckoutMetrics) ProviderVerify(provider, result string) {
	m.Verifications.WithLabelValues(provider, result).Inc()
}

func (m *CheckoutMetrics) ObserveStage(stage string, elapsed time.Duration) {
	m.Stages.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// FxFallback has the signature the currency converter expects for its fallback hook.
func (m *CheckoutMetrics) FxFallback(currency string) {
	m.FxFallbacks.WithLabelValues(currency).Inc()
}

func (m *CheckoutMetrics) OutboxPending(n int) {
	m.OutboxLag.Set(float64(n))
}

func (m *CheckoutMetrics) ExpiredRows(kind string, n int64) {
	m.Expired.WithLabelValues(kind).Add(float64(n))
}

func (m *CheckoutMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware counts requests by chi route pattern so path parameters do not explode the label set.
func (m *CheckoutMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		handler := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			handler = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	})
}

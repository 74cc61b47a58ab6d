package voxcart

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/biometric"
)

const metricsNamespace = "voxcart"

// Metrics holds the service's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	enrollments   *prometheus.CounterVec
	verifications *prometheus.CounterVec
	scores        prometheus.Histogram
	commands      *prometheus.CounterVec
	checkouts     *prometheus.CounterVec
	revenue       prometheus.Counter
	stock         *prometheus.GaugeVec
	sessions      prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "enrollments_total",
			Help:      "Voice enrollments by result.",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "verifications_total",
			Help:      "Voice verifications by result.",
		}, []string{"result"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "verification_score",
			Help:      "Average log-likelihood of verification samples.",
			Buckets:   prometheus.LinearBuckets(-120, 10, 14),
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Session commands by intent.",
		}, []string{"intent"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by result.",
		}, []string{"result"}),
		revenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sales_amount_total",
			Help:      "Sum of committed sale totals.",
		}),
		stock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "product_stock",
			Help:      "Units in stock per product.",
		}, []string{"product"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_sessions",
			Help:      "Live sessions.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.enrollments, m.verifications, m.scores, m.commands,
		m.checkouts, m.revenue, m.stock, m.sessions,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrInsufficientSamples):
		return "insufficient_samples"
	case errors.Is(err, models.ErrExtractionFailed):
		return "extraction_failed"
	case errors.Is(err, models.ErrNotEnrolled):
		return "not_enrolled"
	case errors.Is(err, models.ErrRejected):
		return "rejected"
	case errors.Is(err, models.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrProductNotFound):
		return "product_not_found"
	}
	return "error"
}

func (m *Metrics) observeEnrollment(err error) {
	if m == nil {
		return
	}
	m.enrollments.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) observeVerification(v *biometric.Verification, err error) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome(err)).Inc()
	if v != nil {
		m.scores.Observe(v.Score)
	}
}

func (m *Metrics) observeCommand(intent string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(intent).Inc()
}

func (m *Metrics) observeCheckout(total decimal.Decimal, err error) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		m.revenue.Add(total.InexactFloat64())
	}
}

func (m *Metrics) setStock(products []models.Product) {
	if m == nil {
		return
	}
	m.stock.Reset()
	for _, p := range products {
		m.stock.WithLabelValues(p.Name).Set(float64(p.Stock))
	}
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

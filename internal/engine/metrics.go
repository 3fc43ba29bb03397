package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: время обработки purchase intent (включая провайдера)
	RequestDuration *prometheus.HistogramVec

	// Traffic: исходы авторизации по коду причины
	DecisionTotal *prometheus.CounterVec

	// Суммы сеттлментов (в долларах) — для контроля профиля трат
	SettledAmount prometheus.Histogram

	// Errors: классификация отказов инфраструктуры
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agpay_request_duration_seconds",
			Help:    "Histogram of purchase intent processing latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),

		DecisionTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agpay_decisions_total",
			Help: "Total number of authorization decisions.",
		}, []string{"outcome", "reason_code"}),

		SettledAmount: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "agpay_settled_amount_usd",
			Help:    "Distribution of settled purchase amounts in USD.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agpay_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: preauth_failed, issue_failed, capture_failed, rate_limit

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "agpay_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open).",
		}, []string{"connector_id"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agpay_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}

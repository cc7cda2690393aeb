package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняло исполнение действия (включая адаптеры)
	ActionDuration *prometheus.HistogramVec

	// Traffic: общее кол-во диспатчей
	ActionsTotal *prometheus.CounterVec

	// Errors: классификация отказов по видам таксономии
	ErrorsTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - open, 2 - half-open)
	CircuitBreakerState *prometheus.GaugeVec

	// Saga: пройденные шаги и исходы компенсаций
	SagaStepsTotal     *prometheus.CounterVec
	CompensationsTotal *prometheus.CounterVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ActionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bookflow_action_duration_seconds",
			Help:    "Histogram of action dispatch latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"target_system", "action_type", "status"}),

		ActionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "bookflow_actions_total",
			Help: "Total number of dispatched actions.",
		}, []string{"target_system", "action_type"}),

		ErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "bookflow_errors_total",
			Help: "Total number of errors by kind.",
		}, []string{"kind"}), // INVALID_STATE, EXTERNAL_API_ERROR, CIRCUIT_OPEN, ...

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "bookflow_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open).",
		}, []string{"target_system"}),

		SagaStepsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "bookflow_saga_steps_total",
			Help: "Total number of saga steps by outcome.",
		}, []string{"outcome"}), // completed, failed, paused

		CompensationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "bookflow_compensations_total",
			Help: "Total number of compensation attempts by outcome.",
		}, []string{"outcome"}), // done, skipped, failed

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "bookflow_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}

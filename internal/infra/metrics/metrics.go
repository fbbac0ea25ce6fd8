package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CheckinExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkin_executions_total",
		Help: "Количество выполнений стратегий по исходам",
	}, []string{"strategy", "outcome"})

	CheckinExecutionSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkin_execution_seconds",
		Help:    "Длительность выполнения одной стратегии",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30},
	}, []string{"strategy"})

	SessionsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mtproto_sessions_connected",
		Help: "Число подключённых MTProto-сессий",
	})

	SessionHealthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mtproto_session_health_failures_total",
		Help: "Количество неудачных проверок живости сессий",
	})

	SchedulerJobsInstalled = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_jobs_installed",
		Help: "Число установленных заданий чек-ина",
	})

	SchedulerReconcileOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_reconcile_ops_total",
		Help: "Операции reconcile по типам (installed/removed/rescheduled/failed)",
	}, []string{"op"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует все метрики в указанном реестре.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		CheckinExecutionsTotal,
		CheckinExecutionSeconds,
		SessionsConnected,
		SessionHealthFailures,
		SchedulerJobsInstalled,
		SchedulerReconcileOps,
		NetworkRequestDuration,
	)
}

// ObserveNetworkRequest фиксирует длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(time.Since(start).Seconds())
}

// ObserveExecution фиксирует исход одного выполнения стратегии.
func ObserveExecution(strategy string, start time.Time, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	CheckinExecutionsTotal.WithLabelValues(strategy, outcome).Inc()
	CheckinExecutionSeconds.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
}

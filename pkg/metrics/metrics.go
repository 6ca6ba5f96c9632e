// Package metrics defines the Prometheus instrumentation for the service.
// All metrics live on a dedicated registry so tests can assert against a
// clean slate and the /metrics endpoint never leaks default-registry noise.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Namespace = "sapiens"

	QueueSubsystem  = "queue"
	BudgetSubsystem = "budget"
	LLMSubsystem    = "llm"
)

// Registry holds every metric the service exports.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

var (
	TasksEnqueuedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: QueueSubsystem,
			Name:      "tasks_enqueued_total",
			Help:      "Number of generation tasks enqueued, labeled by task type. Deduplicated enqueues are not counted.",
		},
		[]string{"task_type"},
	)
	TasksFinishedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: QueueSubsystem,
			Name:      "tasks_finished_total",
			Help:      "Number of generation tasks that reached a terminal state, labeled by task type and outcome.",
		},
		[]string{"task_type", "outcome"},
	)
	TasksRetriedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: QueueSubsystem,
			Name:      "tasks_retried_total",
			Help:      "Number of task attempts re-scheduled after a transient failure.",
		},
		[]string{"task_type"},
	)
	TaskDurationSeconds = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: QueueSubsystem,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock execution time of a task attempt.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"task_type"},
	)
	QueueDepth = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: QueueSubsystem,
			Name:      "depth",
			Help:      "Current number of tasks per status, refreshed by the queue sweeper.",
		},
		[]string{"status"},
	)
	LeasesReclaimedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: QueueSubsystem,
			Name:      "leases_reclaimed_total",
			Help:      "Number of expired leases returned to the pending state by the sweeper.",
		},
	)

	AdmissionTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: BudgetSubsystem,
			Name:      "admission_total",
			Help:      "Budget gate admission decisions, labeled by decision and the scope that drove a denial.",
		},
		[]string{"decision", "scope"},
	)
	AlertsFiredTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: BudgetSubsystem,
			Name:      "alerts_fired_total",
			Help:      "Budget threshold alerts fired, labeled by alert type.",
		},
		[]string{"alert_type"},
	)
	BudgetUsageUSD = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: BudgetSubsystem,
			Name:      "usage_usd",
			Help:      "Rolling UTC-day spend per scope, including in-flight reservations. Per-user scopes are not exported.",
		},
		[]string{"scope"},
	)

	LLMCallsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: LLMSubsystem,
			Name:      "calls_total",
			Help:      "Model invocations, labeled by provider, model and outcome.",
		},
		[]string{"provider", "model", "outcome"},
	)
	LLMCallDurationSeconds = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: LLMSubsystem,
			Name:      "call_duration_seconds",
			Help:      "Latency of model invocations.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)
	LLMTokensTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: LLMSubsystem,
			Name:      "tokens_total",
			Help:      "Tokens consumed by model invocations, labeled by direction (prompt or completion).",
		},
		[]string{"provider", "model", "direction"},
	)
	LLMCostUSDTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: LLMSubsystem,
			Name:      "cost_usd_total",
			Help:      "Accumulated final cost of successful model invocations.",
		},
		[]string{"provider", "model"},
	)
)

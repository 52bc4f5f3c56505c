package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики Runner service.
var (
	// JobsStarted — количество запущенных jobs.
	JobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_jobs_started_total",
		Help: "Total jobs started by the runner",
	})

	// JobsCompleted — количество завершённых jobs по финальному статусу.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_jobs_completed_total",
		Help: "Total jobs finished, by final status (DONE, STOPPED)",
	}, []string{"status"})

	// JobsRunning — количество jobs, выполняющихся в данный момент.
	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conveyor_jobs_running",
		Help: "Jobs currently running",
	})

	// TasksExecuted — количество выполненных tasks по результату.
	TasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_tasks_executed_total",
		Help: "Total tasks executed, by result (succeeded, failed)",
	}, []string{"result"})

	// TasksInFlight — количество tasks, выполняющихся в данный момент.
	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conveyor_tasks_in_flight",
		Help: "Tasks currently in flight across all jobs",
	})

	// TaskDuration — длительность выполнения task в секундах.
	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conveyor_task_duration_seconds",
		Help:    "Task execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// InvariantViolations — количество нарушений инвариантов счётчика.
	// Ненулевое значение означает баг в протоколе событий.
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_invariant_violations_total",
		Help: "Counter protocol invariant violations detected by the runner",
	})
)

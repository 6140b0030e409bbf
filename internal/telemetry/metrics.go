package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conveyor"

var (
	// ClaimsTotal — успешные claim'ы по очередям.
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claims_total",
		Help:      "Task descriptors claimed by workers.",
	}, []string{"queue"})

	// AcksTotal — подтверждённые descriptors.
	AcksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "acks_total",
		Help:      "Task descriptors acknowledged after successful execution.",
	}, []string{"queue"})

	// FailuresTotal — descriptors, записанные в failed-set.
	FailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "failures_total",
		Help:      "Task descriptors recorded in the failed-set.",
	}, []string{"stage"})

	// ClaimConflictsTotal — проигранные гонки за claim.
	ClaimConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "claim_conflicts_total",
		Help:      "Claims the store could not honor atomically.",
	}, []string{"queue"})

	// EnqueuedTotal — descriptors, поставленные в очередь.
	EnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enqueued_total",
		Help:      "Task descriptors pushed onto queues.",
	}, []string{"queue"})

	// QueueDepth — последнее наблюдённое состояние очереди.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Last observed queue depth by state (pending, in_flight).",
	}, []string{"queue", "state"})

	// StageTransitionsTotal — переходы стадий по целевому статусу.
	StageTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_transitions_total",
		Help:      "Stage status transitions.",
	}, []string{"stage", "status"})

	// TaskDuration — время выполнения task body.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task body execution time.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage", "outcome"})
)

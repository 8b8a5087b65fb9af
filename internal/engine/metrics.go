package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	activitiesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "engine",
		Name:      "activities_created_total",
		Help:      "Number of activities materialized, labeled by activity type.",
	}, []string{"activity_type"})

	activitiesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "engine",
		Name:      "activities_completed_total",
		Help:      "Number of activities that recorded an outcome.",
	})

	tasksScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "engine",
		Name:      "tasks_scheduled_total",
		Help:      "Number of deferred jobs registered with the scheduler, labeled by kind.",
	}, []string{"kind"})

	cascadeSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "engine",
		Name:      "cascade_steps_total",
		Help:      "Number of cascade steps executed, labeled by cascade.",
	}, []string{"cascade"})

	cascadeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "engine",
		Name:      "cascade_failures_total",
		Help:      "Number of non-fatal cascade step failures, labeled by cascade.",
	}, []string{"cascade"})

	statusChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "engine",
		Name:      "status_changes_total",
		Help:      "Number of case status transitions, labeled by new status.",
	}, []string{"status"})

	notificationsSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "engine",
		Name:      "notifications_suppressed_total",
		Help:      "Number of template dispatches suppressed for unassigned activities.",
	})
)

func init() {
	prometheus.MustRegister(activitiesCreated, activitiesCompleted, tasksScheduled,
		cascadeSteps, cascadeFailures, statusChanges, notificationsSuppressed)
}

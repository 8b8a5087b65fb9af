package postgres

import "github.com/prometheus/client_golang/prometheus"

var (
	casesSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "persistence",
		Name:      "cases_saved_total",
		Help:      "Number of case snapshots written with a version bump.",
	})

	casesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "persistence",
		Name:      "cases_submitted_total",
		Help:      "Number of brand-new cases inserted, including referrals.",
	})
)

func init() {
	prometheus.MustRegister(casesSaved, casesSubmitted)
}

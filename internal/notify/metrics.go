package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "notify",
		Name:      "published_total",
		Help:      "Number of notification records published to Kafka, labeled by topic.",
	}, []string{"topic"})

	publishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "notify",
		Name:      "publish_failures_total",
		Help:      "Number of failed publishes, labeled by topic.",
	}, []string{"topic"})

	delivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "notify",
		Name:      "delivered_total",
		Help:      "Number of notifications delivered to the gateway, labeled by topic.",
	}, []string{"topic"})

	deliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "notify",
		Name:      "delivery_failures_total",
		Help:      "Number of gateway delivery failures, labeled by topic.",
	}, []string{"topic"})

	decodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "casework",
		Subsystem: "notify",
		Name:      "decode_errors_total",
		Help:      "Number of undecodable records committed and skipped, labeled by topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(published, publishFailures, delivered, deliveryFailures, decodeErrors)
}

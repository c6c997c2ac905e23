package consumer

import "github.com/prometheus/client_golang/prometheus"

// Message outcomes reported by the processor.
const (
	outcomeProcessed    = "processed"
	outcomeSkipped      = "skipped"
	outcomeHandlerError = "handler_error"
	outcomeUndecodable  = "undecodable"
)

var (
	messageOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fittrack",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Kafka messages seen by the feed projector, by topic, event type and outcome.",
	}, []string{"topic", "event_type", "outcome"})

	handlerRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fittrack",
		Subsystem: "consumer",
		Name:      "handler_retries_total",
		Help:      "Handler attempts repeated after a transient failure.",
	}, []string{"topic"})

	projectedAt = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fittrack",
		Subsystem: "consumer",
		Name:      "last_projected_timestamp_seconds",
		Help:      "Broker timestamp of the newest message projected per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messageOutcomes, handlerRetries, projectedAt)
}

func recordOutcome(msg Message, outcome string) {
	messageOutcomes.WithLabelValues(msg.Topic, msg.EventType, outcome).Inc()
	if outcome == outcomeProcessed && !msg.Timestamp.IsZero() {
		projectedAt.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

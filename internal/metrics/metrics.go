package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the Semaphore service
type Metrics struct {
	// WebSocket hub metrics
	ActiveSessions *prometheus.GaugeVec
	DeliveryLag    *prometheus.HistogramVec

	// Broadcast metrics
	EventsPublished *prometheus.CounterVec
	EventsDelivered *prometheus.CounterVec
	SlowConsumers   *prometheus.CounterVec
	ReplayRequests  *prometheus.CounterVec

	// Kafka metrics
	KafkaMessages *prometheus.CounterVec
	KafkaDuration *prometheus.HistogramVec
	KafkaLag      *prometheus.GaugeVec
}

package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var publishedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paddock_bus_published_total",
	Help: "Messages published to the broker, by message type.",
}, []string{"messageType"})

var publishFailedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paddock_bus_publish_failures_total",
	Help: "Publishes that returned an error, by message type.",
}, []string{"messageType"})

var deliveredCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paddock_bus_deliveries_total",
	Help: "Broker deliveries handed to handlers, by queue.",
}, []string{"queue"})

var ackedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paddock_bus_acks_total",
	Help: "Deliveries acknowledged, by queue.",
}, []string{"queue"})

var nackedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "paddock_bus_nacks_total",
	Help: "Deliveries negatively acknowledged, by queue and requeue disposition.",
}, []string{"queue", "requeue"})

// CountPublish records a publish attempt outcome for |typeName|.
func CountPublish(typeName string, err error) {
	if err != nil {
		publishFailedCounter.WithLabelValues(typeName).Inc()
	} else {
		publishedCounter.WithLabelValues(typeName).Inc()
	}
}

// CountDelivery records a delivery handed to a handler.
func CountDelivery(queue string) { deliveredCounter.WithLabelValues(queue).Inc() }

// CountAck records the ack/nack disposition of a handled delivery.
func CountAck(queue string, result ProcessingResult) {
	if result.Ok() {
		ackedCounter.WithLabelValues(queue).Inc()
	} else if result.Requeue() {
		nackedCounter.WithLabelValues(queue, "true").Inc()
	} else {
		nackedCounter.WithLabelValues(queue, "false").Inc()
	}
}

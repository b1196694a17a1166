package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const namespace = "fulfillment"

// Metrics is nil-safe: every Observe method on a nil *Metrics is a no-op so
// components can be built without instrumentation in tests.
type Metrics struct {
	Commands         *prometheus.CounterVec
	CommandLatencyMS *prometheus.HistogramVec
	Queries          *prometheus.CounterVec
	EventsHandled    *prometheus.CounterVec
	MessagesProduced *prometheus.CounterVec
	MessagesConsumed *prometheus.CounterVec
	DeadLettered     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "dispatched_total",
			Help:      "Commands dispatched, by type and result.",
		}, []string{"type", "result"}),
		CommandLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "duration_ms",
			Help:      "Command handling latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"type"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "dispatched_total",
			Help:      "Queries dispatched, by type and result.",
		}, []string{"type", "result"}),
		EventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event",
			Name:      "handled_total",
			Help:      "Event handler invocations, by event type, handler and result.",
		}, []string{"type", "handler", "result"}),
		MessagesProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "produced_total",
			Help:      "Messages produced, by topic and result.",
		}, []string{"topic", "result"}),
		MessagesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "consumed_total",
			Help:      "Messages consumed, by topic and result.",
		}, []string{"topic", "result"}),
		DeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "dead_lettered_total",
			Help:      "Messages routed to a dead-letter topic, by source topic.",
		}, []string{"topic"}),
	}
	reg.MustRegister(m.Commands, m.CommandLatencyMS, m.Queries, m.EventsHandled, m.MessagesProduced, m.MessagesConsumed, m.DeadLettered)
	return m
}

// Result turns an error into a low-cardinality label value.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		return string(derr.Kind)
	}
	return "error"
}

func (m *Metrics) ObserveCommand(commandType string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(commandType, Result(err)).Inc()
	m.CommandLatencyMS.WithLabelValues(commandType).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) ObserveQuery(queryType string, err error) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(queryType, Result(err)).Inc()
}

func (m *Metrics) ObserveEvent(eventType, handler string, err error) {
	if m == nil {
		return
	}
	m.EventsHandled.WithLabelValues(eventType, handler, Result(err)).Inc()
}

func (m *Metrics) ObserveProduced(topic string, err error) {
	if m == nil {
		return
	}
	m.MessagesProduced.WithLabelValues(topic, Result(err)).Inc()
}

func (m *Metrics) ObserveConsumed(topic string, err error) {
	if m == nil {
		return
	}
	m.MessagesConsumed.WithLabelValues(topic, Result(err)).Inc()
}

func (m *Metrics) ObserveDeadLetter(topic string) {
	if m == nil {
		return
	}
	m.DeadLettered.WithLabelValues(topic).Inc()
}

// Handler serves the metrics collected by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

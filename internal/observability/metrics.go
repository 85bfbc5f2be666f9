package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	httpErrors      *prometheus.CounterVec
	ticketsCreated  *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	ticketsClosed   *prometheus.CounterVec
	reminders       *prometheus.CounterVec
	relays          *prometheus.CounterVec
	gatewayFailures *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	inflightTasks   prometheus.Gauge
}

// NewMetrics registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketdesk_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_http_errors_total",
			Help: "HTTP error responses by route and error code.",
		}, []string{"method", "path", "code"}),
		ticketsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_tickets_created_total",
			Help: "Tickets opened by category.",
		}, []string{"category"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_ticket_transitions_total",
			Help: "Applied lifecycle events by kind.",
		}, []string{"event"}),
		ticketsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_tickets_closed_total",
			Help: "Closed tickets by archive bucket and whether the close was self-healing.",
		}, []string{"bucket", "self_healed"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_reminders_total",
			Help: "Staleness reminders emitted by stage.",
		}, []string{"stage"}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_relayed_messages_total",
			Help: "Inbound direct messages by relay outcome.",
		}, []string{"outcome"}),
		gatewayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketdesk_gateway_failures_total",
			Help: "Failed best-effort gateway calls by operation.",
		}, []string{"op"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticketdesk_reminder_sweep_duration_seconds",
			Help:    "Duration of reminder sweeps.",
			Buckets: prometheus.DefBuckets,
		}),
		inflightTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ticketdesk_async_tasks_inflight",
			Help: "Interaction tasks acknowledged but not yet finished.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpLatency, m.httpErrors,
		m.ticketsCreated, m.transitions, m.ticketsClosed,
		m.reminders, m.relays, m.gatewayFailures,
		m.sweepDuration, m.inflightTasks,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.httpErrors.WithLabelValues(method, path, code).Inc()
}

func (m *Metrics) TicketCreated(category string) {
	if m == nil {
		return
	}
	m.ticketsCreated.WithLabelValues(category).Inc()
}

func (m *Metrics) Transition(event string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event).Inc()
}

func (m *Metrics) TicketClosed(bucket string, selfHealed bool) {
	if m == nil {
		return
	}
	m.ticketsClosed.WithLabelValues(bucket, strconv.FormatBool(selfHealed)).Inc()
}

func (m *Metrics) ReminderFired(stage int) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(strconv.Itoa(stage)).Inc()
}

func (m *Metrics) Relayed(outcome string) {
	if m == nil {
		return
	}
	m.relays.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GatewayFailure(op string) {
	if m == nil {
		return
	}
	m.gatewayFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

// TaskStarted and TaskFinished track in-flight async interaction work.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.inflightTasks.Inc()
}

func (m *Metrics) TaskFinished() {
	if m == nil {
		return
	}
	m.inflightTasks.Dec()
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many instances as
// they like without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	addOnUsage    *prometheus.CounterVec
	backups       *prometheus.CounterVec
	appointments  *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_http_requests_total",
			Help: "HTTP requests processed, by method, route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinic_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		addOnUsage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_addon_usage_total",
			Help: "Billable add-on invocations.",
		}, []string{"addon"}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_backups_total",
			Help: "Backups produced, by type, trigger and status.",
		}, []string{"type", "trigger", "status"}),
		appointments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_appointment_transitions_total",
			Help: "Appointment status changes, by target status.",
		}, []string{"status"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_payment_webhook_events_total",
			Help: "Payment webhook deliveries, by event and outcome.",
		}, []string{"event", "outcome"}),
	}

	reg.MustRegister(m.requests, m.latency, m.addOnUsage, m.backups, m.appointments, m.webhookEvents)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest records one finished HTTP request. route should be the
// matched pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) AddOnUsed(name string) {
	if m == nil {
		return
	}
	m.addOnUsage.WithLabelValues(name).Inc()
}

func (m *Metrics) BackupFinished(backupType, trigger, status string) {
	if m == nil {
		return
	}
	m.backups.WithLabelValues(backupType, trigger, status).Inc()
}

func (m *Metrics) AppointmentTransition(status string) {
	if m == nil {
		return
	}
	m.appointments.WithLabelValues(status).Inc()
}

func (m *Metrics) WebhookEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, outcome).Inc()
}

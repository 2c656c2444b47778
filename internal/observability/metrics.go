package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	requestsTotalName        = "ticket_tracker_http_requests_total"
	requestDurationName      = "ticket_tracker_http_request_duration_seconds"
	errorsTotalName          = "ticket_tracker_http_errors_total"
	ticketsCreatedName       = "ticket_tracker_tickets_created_total"
	statusChangesName        = "ticket_tracker_ticket_status_changes_total"
	loginsTotalName          = "ticket_tracker_logins_total"
	notificationFailuresName = "ticket_tracker_notification_failures_total"
)

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is a no-op.
type Metrics struct {
	requests             *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	errors               *prometheus.CounterVec
	ticketsCreated       prometheus.Counter
	statusChanges        *prometheus.CounterVec
	logins               *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
}

// NewMetrics registers the collectors on r.
func NewMetrics(r prometheus.Registerer) *Metrics {
	factory := promauto.With(r)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: requestsTotalName,
			Help: "Total number of HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    requestDurationName,
			Help:    "HTTP request latency by route and method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: errorsTotalName,
			Help: "Total number of failed HTTP requests by route, method and error code.",
		}, []string{"route", "method", "code"}),
		ticketsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: ticketsCreatedName,
			Help: "Total number of tickets created.",
		}),
		statusChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: statusChangesName,
			Help: "Total number of ticket status updates by target status and caller role.",
		}, []string{"status", "role"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: loginsTotalName,
			Help: "Total number of login attempts by outcome.",
		}, []string{"outcome"}),
		notificationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: notificationFailuresName,
			Help: "Total number of failed ticket event deliveries by sink.",
		}, []string{"sink"}),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}

// RecordTicketCreated counts a new ticket.
func (m *Metrics) RecordTicketCreated() {
	if m == nil {
		return
	}
	m.ticketsCreated.Inc()
}

// RecordStatusChange counts a successful status update.
func (m *Metrics) RecordStatusChange(status, role string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status, role).Inc()
}

// RecordLogin counts a login attempt; outcome is "success" or "failure".
func (m *Metrics) RecordLogin(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// RecordNotificationFailure counts a failed delivery to sink.
func (m *Metrics) RecordNotificationFailure(sink string) {
	if m == nil {
		return
	}
	m.notificationFailures.WithLabelValues(sink).Inc()
}

// Package metrics holds the Prometheus collectors of the billing service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricPaymentsReconciled    = "clinic_payments_reconciled_total"
	MetricChangeCents           = "clinic_payments_change_cents_total"
	MetricPersistenceFailures   = "clinic_payment_persistence_failures_total"
	MetricWorkflowNotifications = "clinic_workflow_notifications_total"
	MetricBalanceReminders      = "clinic_balance_reminders_total"
	MetricHTTPDuration          = "clinic_http_request_duration_seconds"
)

// Notification and reminder results.
const (
	ResultSent     = "sent"
	ResultFailed   = "failed"
	ResultDisabled = "disabled"
	ResultSkipped  = "skipped"
)

// Metrics owns a private registry; safe for concurrent use. A nil *Metrics is a no-op.
type Metrics struct {
	registry            *prometheus.Registry
	reconciled          *prometheus.CounterVec
	changeCents         prometheus.Counter
	persistenceFailures prometheus.Counter
	notifications       *prometheus.CounterVec
	reminders           *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPaymentsReconciled,
			Help: "Payment submissions reconciled and stored, by resulting status.",
		}, []string{"status"}),
		changeCents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricChangeCents,
			Help: "Change handed back to payers, in cents.",
		}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPersistenceFailures,
			Help: "Payment submissions that failed to persist.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricWorkflowNotifications,
			Help: "Workflow webhook notifications for paid appointments, by result.",
		}, []string{"result"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBalanceReminders,
			Help: "Pending balance reminders, by result.",
		}, []string{"result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPDuration,
			Help:    "HTTP request duration by route template.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	m.registry.MustRegister(
		m.reconciled, m.changeCents, m.persistenceFailures, m.notifications, m.reminders, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) PaymentReconciled(status string, changeCents int64) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(status).Inc()
	if changeCents > 0 {
		m.changeCents.Add(float64(changeCents))
	}
}

func (m *Metrics) PersistenceFailure() {
	if m == nil {
		return
	}
	m.persistenceFailures.Inc()
}

func (m *Metrics) WorkflowNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) BalanceReminder(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reminders.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}

// Package metrics holds the Prometheus collectors for HTTP traffic and the
// scheduling engine. All recording methods are safe on a nil *Metrics.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "therapy"

type Metrics struct {
	gatherer prometheus.Gatherer

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	bookings      *prometheus.CounterVec
	reschedules   prometheus.Counter
	cancellations *prometheus.CounterVec
	swept         prometheus.Counter
	sweepRuns     *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_bookings_total",
			Help:      "Appointment booking attempts by outcome.",
		}, []string{"outcome"}),
		reschedules: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_reschedules_total",
			Help:      "Appointments rescheduled.",
		}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_cancellations_total",
			Help:      "Appointments canceled by actor role.",
		}, []string{"role"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_completed_appointments_total",
			Help:      "Appointments transitioned to completed by the sweep.",
		}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Sweep executions by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.HTTPRequests, m.HTTPDuration, m.bookings, m.reschedules, m.cancellations, m.swept, m.sweepRuns)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}

// Booking records a booking attempt; outcome is "created", "rejected" or "error".
func (m *Metrics) Booking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Rescheduled() {
	if m == nil {
		return
	}
	m.reschedules.Inc()
}

func (m *Metrics) Canceled(role string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(role).Inc()
}

// Swept records one sweep run and the rows it completed.
func (m *Metrics) Swept(n int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sweepRuns.WithLabelValues("error").Inc()
		return
	}
	m.sweepRuns.WithLabelValues("ok").Inc()
	m.swept.Add(float64(n))
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	JobRuns             *prometheus.CounterVec
	UnbalancedReports   prometheus.Counter
	ScheduledReports    *prometheus.CounterVec
	RateRecordsUpserted prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afms_http_requests_total",
			Help: "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "afms_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afms_job_runs_total",
			Help: "Background job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		UnbalancedReports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "afms_trial_balance_unbalanced_total",
			Help: "Trial balances generated with is_balanced=false.",
		}),
		ScheduledReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afms_scheduled_reports_total",
			Help: "Scheduled report runs by outcome.",
		}, []string{"outcome"}),
		RateRecordsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "afms_exchange_rates_upserted_total",
			Help: "Exchange rate records written by the refresh job.",
		}),
	}

	m.Registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.JobRuns,
		m.UnbalancedReports,
		m.ScheduledReports,
		m.RateRecordsUpserted,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// JobOutcome records one run of a background job.
func (m *Metrics) JobOutcome(job string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.JobRuns.WithLabelValues(job, outcome).Inc()
}

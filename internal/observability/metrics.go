package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_http_requests_total",
			Help: "Total API requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "autopilot_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autopilot_http_in_flight",
		Help: "In-flight HTTP requests",
	})

	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_cycles_total",
			Help: "Automation cycles by outcome",
		}, []string{"outcome"},
	)
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "autopilot_cycle_duration_seconds",
		Help:    "Automation cycle duration seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_actions_total",
			Help: "Campaign status changes by kind and result",
		}, []string{"kind", "result"},
	)
	SkippedEvaluations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_skipped_evaluations_total",
		Help: "Rule evaluations refused because the snapshot was not trustworthy",
	})
	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_upstream_errors_total",
			Help: "Failed upstream fetches by source",
		}, []string{"source"},
	)
	RunningSchedulers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autopilot_running_schedulers",
		Help: "Per-user automation loops currently running",
	})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal, Latency, InFlight,
		CyclesTotal, CycleDuration, ActionsTotal, SkippedEvaluations, UpstreamErrors, RunningSchedulers,
	)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}

package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AlexKimmel/GateLite/internal/gateway"
	"github.com/AlexKimmel/GateLite/internal/ratelimit"
	"github.com/AlexKimmel/GateLite/internal/routing"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes request and admission metrics. It implements
// limiter.Observer and memory.EvictionObserver.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Admissions      *prometheus.CounterVec
	QueueWait       *prometheus.HistogramVec
	Evictions       prometheus.Counter
}

// NewMetrics registers the collectors on reg. partitions, when non-nil,
// backs a gauge of live partitions.
func NewMetrics(reg prometheus.Registerer, partitions func() int) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatelite_requests_total",
				Help: "Total HTTP requests processed by the gateway",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatelite_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		Admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatelite_admissions_total",
				Help: "Admission decisions by policy and outcome",
			},
			[]string{"policy", "outcome"},
		),
		QueueWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatelite_queue_wait_seconds",
				Help:    "Estimated wait handed out with queued leases",
				Buckets: []float64{.1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"policy"},
		),
		Evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatelite_partition_evictions_total",
				Help: "Idle partitions removed by the janitor",
			},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.Admissions, m.QueueWait, m.Evictions)
	if partitions != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "gatelite_partitions",
				Help: "Live rate limit partitions",
			},
			func() float64 { return float64(partitions()) },
		))
	}
	return m
}

func (m *Metrics) ObserveLease(policy string, lease ratelimit.Lease) {
	m.Admissions.WithLabelValues(policy, lease.Outcome.String()).Inc()
	if lease.Outcome == ratelimit.Queued {
		m.QueueWait.WithLabelValues(policy).Observe(lease.Wait.Seconds())
	}
}

func (m *Metrics) ObserveEviction(n int) {
	m.Evictions.Add(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Middleware records per-request metrics.
// It reads the route stored by gateway.RouteMatcher, so it must run after it.
func (m *Metrics) Middleware(skip map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rt, ok := routing.RouteFrom(r); ok && rt != nil && rt.ID != "" {
				route = rt.ID
			}

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}

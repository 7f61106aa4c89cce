package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_rate_limit_decisions_total",
			Help: "Rate limiter decisions by limiter and outcome.",
		},
		[]string{"limiter", "outcome"},
	)

	notificationsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_notifications_scheduled_total",
			Help: "Resolution notifications accepted for delivery.",
		},
		[]string{"mode"},
	)

	notificationsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_notifications_total",
			Help: "Resolution notification outcomes.",
		},
		[]string{"outcome"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "helpdesk_ready",
		Help: "1 when the readiness probe last succeeded.",
	})
)

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			rateLimitDecisions, notificationsScheduled, notificationsDelivered,
			ready, buildInfo,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRateLimit counts one limiter decision.
func ObserveRateLimit(limiter string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	rateLimitDecisions.WithLabelValues(limiter, outcome).Inc()
}

// NotificationScheduled counts an accepted notification job ("immediate" or "deferred").
func NotificationScheduled(mode string) {
	notificationsScheduled.WithLabelValues(mode).Inc()
}

// NotificationOutcome counts a finished notification job ("sent" or "failed").
func NotificationOutcome(outcome string) {
	notificationsDelivered.WithLabelValues(outcome).Inc()
}

// SetReady records the latest readiness result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument measures request rate, latency and in-flight count.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses ticket identifiers so metric label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "tickets" && parts[2] != "" {
		switch {
		case len(parts) == 3:
			return "/v1/tickets/:id"
		case len(parts) == 4 && parts[3] == "status":
			return "/v1/tickets/:id/status"
		}
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

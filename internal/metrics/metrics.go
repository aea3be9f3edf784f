package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	bookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduling_bookings_total",
			Help: "Booking attempts by outcome",
		},
		[]string{"outcome"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduling_transitions_total",
			Help: "Appointment status transitions by target status and outcome",
		},
		[]string{"to", "outcome"},
	)

	noShowsMarked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduling_noshow_marked_total",
			Help: "Appointments marked as no-show by the worker",
		},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)
)

func init() {
	prometheus.MustRegister(bookingsTotal, transitionsTotal, noShowsMarked, httpRequestDuration)
}

// RecordBooking counts one booking attempt. outcome is "created" or an error code.
func RecordBooking(outcome string) {
	bookingsTotal.WithLabelValues(outcome).Inc()
}

func RecordTransition(to, outcome string) {
	transitionsTotal.WithLabelValues(to, outcome).Inc()
}

func RecordNoShows(n int) {
	noShowsMarked.Add(float64(n))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware observes request latency labelled by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		httpRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yugi",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status.",
		},
		[]string{"endpoint", "status"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yugi",
			Name:      "booking_transitions_total",
			Help:      "Booking lifecycle transitions by resulting status.",
		},
		[]string{"status"},
	)

	fundsReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "yugi",
			Name:      "funds_released_total",
			Help:      "Bookings whose held funds were released to the provider.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingTransitions, fundsReleased)
	})
}

// IncHTTP increments the counter for an endpoint/status label pair.
func IncHTTP(endpoint, status string) {
	httpRequests.WithLabelValues(endpoint, status).Inc()
}

// IncBooking records a booking transition into the given status.
func IncBooking(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

// IncFundsReleased records one fund release.
func IncFundsReleased() {
	fundsReleased.Inc()
}

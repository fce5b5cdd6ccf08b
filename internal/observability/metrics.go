package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_booking"

var (
	BookingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bookings_created_total", Help: "Bookings created, by tier"},
		[]string{"tier"},
	)
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_transitions_total", Help: "Committed booking status transitions"},
		[]string{"from", "to"},
	)
	AcceptConflicts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "accept_conflicts_total", Help: "Accept attempts that lost the assignment"})
	RatingsSubmitted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ratings_submitted_total", Help: "Ratings stored"})
	Payments         = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "payments_total", Help: "Payment attempts by outcome"},
		[]string{"outcome"},
	)
	MessagesPosted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "chat_messages_posted_total", Help: "Chat messages appended"})
	LocationPings  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "driver_location_pings_total", Help: "Driver location updates accepted"})

	EventPublishErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "event_publish_errors_total", Help: "Events that failed to reach at least one sink"})
	GatewaySubscribers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "gateway_subscribers", Help: "Subscribers currently joined to a booking room"})
	GatewayDropped     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "gateway_dropped_events_total", Help: "Events dropped because a subscriber buffer was full"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "http_rate_limited_total", Help: "Requests rejected by the per-client limiter"})

	ConsumerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "consumer", Name: "messages_total", Help: "Location pings read from Kafka, by outcome"},
		[]string{"outcome"},
	)
	ConsumerTagErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "consumer", Name: "tag_errors_total", Help: "Location pings that could not be written to the index"})
)

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	ConnectionsLive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "connections_live", Help: "Live socket connections"})
	AdminsLive      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "admins_live", Help: "Live connections registered as admin"})
	PendingChats    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pending_chats", Help: "Chat requests waiting for an admin"})
	ActiveRooms     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "active_rooms", Help: "Chat rooms currently bridged"})

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_total", Help: "Inbound socket events handled"},
		[]string{"event"},
	)
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_dropped_total", Help: "Inbound socket events dropped as malformed or unknown"},
		[]string{"event"},
	)
	RequestTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "chat_request_transitions_total", Help: "Chat request lifecycle transitions by resulting state"},
		[]string{"state"},
	)
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "store_errors_total", Help: "External store calls that failed"},
		[]string{"op"},
	)
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "store_call_seconds", Help: "External store call latency", Buckets: prometheus.DefBuckets},
		[]string{"op"},
	)
	LocationReports = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_reports_total", Help: "Accepted driver location reports"})
	SendDropped     = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "socket_send_dropped_total", Help: "Outbound frames dropped on slow or closed connections"})

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
)

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "orders_created_total", Help: "Orders created"})
	OrdersAccepted    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "orders_accepted_total", Help: "Orders accepted by a driver"})
	OrdersCancelled   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "orders_cancelled_total", Help: "Orders cancelled by either party"})
	OrdersExpired     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "orders_expired_total", Help: "Unaccepted orders expired"})
	AcceptConflicts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accept_conflicts_total", Help: "Acceptance attempts that lost the race"})
	PaymentsConfirmed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "payments_confirmed_total", Help: "Payments settled by the assigned driver"})
	DriversOnline     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_online", Help: "Driver sessions currently online"})
	WSConnections     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "ws_connections", Help: "Live websocket connections"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

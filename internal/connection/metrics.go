package connection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks live upstream sockets per venue/market.
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_ws_active_connections",
		Help: "Number of active upstream WebSocket connections",
	}, []string{"venue", "market"})

	// ReconnectAttemptsTotal tracks reconnection attempts per venue/market.
	ReconnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_ws_reconnect_attempts_total",
		Help: "Total number of upstream WebSocket reconnection attempts",
	}, []string{"venue", "market"})

	// ReconnectFailuresTotal tracks reconnection failures per venue/market.
	ReconnectFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_ws_reconnect_failures_total",
		Help: "Total number of upstream WebSocket reconnection failures",
	}, []string{"venue", "market"})

	// MessagesDroppedTotal tracks raw frames dropped before reaching an adapter.
	MessagesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_ws_messages_dropped_total",
		Help: "Total number of raw frames dropped due to a full message queue",
	}, []string{"venue", "reason"})

	// ConnectionDuration tracks upstream connection lifetime before disconnect.
	ConnectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_ws_connection_duration_seconds",
		Help:    "Duration of upstream WebSocket connections before disconnect",
		Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800, 43200, 86400},
	}, []string{"venue", "market"})
)

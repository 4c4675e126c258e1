// Package metrics defines the Prometheus instrumentation for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebSocket connection metrics
var (
	// WebSocketConnections tracks currently registered connections.
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Number of currently registered WebSocket connections",
		},
	)

	// WebSocketConnectionsTotal counts accepted connections since start.
	WebSocketConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total accepted WebSocket connections",
		},
	)

	// WebSocketDisconnects counts disconnects by reason.
	WebSocketDisconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_disconnects_total",
			Help: "Total WebSocket disconnects by reason",
		},
		[]string{"reason"},
	)

	// WebSocketMessagesReceived counts inbound frames by type.
	WebSocketMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_received_total",
			Help: "Total inbound client frames by frame type",
		},
		[]string{"type"},
	)

	// WebSocketSendFailures counts failed or dropped outbound sends.
	WebSocketSendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_send_failures_total",
			Help: "Total outbound sends that failed or overflowed the client buffer",
		},
	)

	// WebSocketMessageSendDuration tracks outbound write latency.
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// HeartbeatTimeouts counts connections evicted by the heartbeat sweep.
	HeartbeatTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_heartbeat_timeouts_total",
			Help: "Total connections evicted for heartbeat timeout",
		},
	)
)

// Broadcast metrics
var (
	// BroadcastQueueDepth tracks the current broadcast queue length.
	BroadcastQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_queue_depth",
			Help: "Current number of messages waiting in the broadcast queue",
		},
	)

	// BroadcastsTotal counts broadcasts by scope (symbol, user, all).
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcasts_total",
			Help: "Total broadcast operations by scope",
		},
		[]string{"scope"},
	)

	// BroadcastsDropped counts enqueue attempts rejected by a full queue.
	BroadcastsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcasts_dropped_total",
			Help: "Total broadcasts dropped because the queue was full",
		},
	)

	// SubscriptionsCurrent tracks total (connection, symbol) pairs.
	SubscriptionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscriptions_current",
			Help: "Current number of (connection, symbol) subscription pairs",
		},
	)
)

// Redis relay metrics
var (
	// RedisPublishesTotal counts publishes by channel kind and status.
	RedisPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_publishes_total",
			Help: "Total Redis publishes by channel kind and status",
		},
		[]string{"kind", "status"},
	)

	// RedisSubscribedChannels tracks reference-counted upstream channels.
	RedisSubscribedChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "redis_subscribed_channels",
			Help: "Number of upstream Redis channels currently subscribed",
		},
	)

	// RedisSubscriberReconnects counts listener reconnect attempts.
	RedisSubscriberReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_subscriber_reconnects_total",
			Help: "Total Redis subscriber reconnect attempts",
		},
	)

	// RedisOpsTotal tracks Redis commands by operation and status.
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis command latency in seconds.
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// CircuitBreakerStateChanges tracks breaker transitions.
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current breaker state (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Rate limiting metrics
var (
	// RateLimitRejections counts rejections by limiter layer.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total rate limit rejections by layer (connection, tiered, vendor)",
		},
		[]string{"layer"},
	)

	// TieredLimiterDegraded is 1 while the tiered limiter runs on its
	// in-process fallback instead of Redis.
	TieredLimiterDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tiered_limiter_degraded",
			Help: "1 when tiered rate limiting has fallen back to in-process windows",
		},
	)

	// VendorThrottleFailOpens counts throttle waits that gave up and
	// proceeded anyway.
	VendorThrottleFailOpens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vendor_throttle_fail_opens_total",
			Help: "Total vendor throttle waits that failed open after max retries",
		},
	)
)

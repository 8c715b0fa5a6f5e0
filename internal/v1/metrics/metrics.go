package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the Dicee game server.
//
// Naming convention: namespace_subsystem_name
// - namespace: dicee (application-level grouping)
// - subsystem: websocket, room, lobby, alarmqueue (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, players)
// - Counter: Cumulative events (messages processed, errors)
// - Histogram: Latency distributions (processing time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections (Gauge - current state)
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dicee",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dicee",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomPlayers tracks the number of seated players in each room (GaugeVec with room_code label)
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dicee",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of seated players in each room",
	}, []string{"room_code"})

	// WebsocketEvents tracks the total number of WebSocket events processed (CounterVec - cumulative)
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// CommandProcessingDuration tracks the time spent processing actor commands (HistogramVec - latency distribution)
	CommandProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dicee",
		Subsystem: "actor",
		Name:      "command_processing_seconds",
		Help:      "Time spent processing a single actor command",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"actor", "command_type"})

	// GamesCompleted tracks the total number of games that reached completion (CounterVec)
	GamesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "room",
		Name:      "games_completed_total",
		Help:      "Total games that reached the completed state",
	}, []string{"reason"})

	// AlarmsProcessed tracks the total number of alarm-queue entries that fired (CounterVec)
	AlarmsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "alarmqueue",
		Name:      "alarms_processed_total",
		Help:      "Total scheduled alarms processed",
	}, []string{"kind"})

	// AlarmQueueDepth tracks the current number of pending alarms per room (GaugeVec)
	AlarmQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dicee",
		Subsystem: "alarmqueue",
		Name:      "pending_depth",
		Help:      "Current number of pending alarms for a room",
	}, []string{"room_code"})

	// CircuitBreakerState tracks the current state of a circuit breaker (GaugeVec)
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dicee",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by a circuit breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// StorageOperationsTotal tracks the total number of storage operations (CounterVec)
	StorageOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dicee",
		Subsystem: "storage",
		Name:      "operations_total",
		Help:      "Total number of durable-storage operations",
	}, []string{"operation", "status"})

	// StorageOperationDuration tracks the duration of storage operations (HistogramVec)
	StorageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dicee",
		Subsystem: "storage",
		Name:      "operation_duration_seconds",
		Help:      "Duration of durable-storage operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// LobbyOnlineUsers tracks the number of presences currently held by the lobby (Gauge)
	LobbyOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dicee",
		Subsystem: "lobby",
		Name:      "online_users",
		Help:      "Current number of online presences tracked by the lobby",
	})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts failed Redis commands by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_redis_errors_total",
		Help: "Total number of Redis command errors by command",
	}, []string{"command"})

	// StoreFallbacks counts operations served by the secondary store because
	// the primary was unreachable or missed.
	StoreFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_store_fallbacks_total",
		Help: "Total number of repository operations that fell back to the secondary store",
	}, []string{"kind", "operation"})

	// ReadRepairs counts primary write-backs after a secondary hit.
	ReadRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_read_repairs_total",
		Help: "Total number of read repairs by kind and result",
	}, []string{"kind", "result"})

	// MirrorFailures counts asynchronous secondary writes that failed.
	MirrorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_mirror_failures_total",
		Help: "Total number of failed secondary mirror writes",
	}, []string{"kind", "operation"})

	// StorageFailures counts operations neither store could serve.
	StorageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_storage_failures_total",
		Help: "Total number of operations that failed on both stores",
	}, []string{"kind", "operation"})

	// EventsRouted counts routed events by type and delivery path
	// (live, push, dropped, duplicate).
	EventsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_events_routed_total",
		Help: "Total number of routed events by type and delivery",
	}, []string{"event_type", "delivery"})

	// PushFailures counts push gateway calls that failed.
	PushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tally_push_failures_total",
		Help: "Total number of failed push notification dispatches",
	})

	// WebSocketConnections is the gauge of live presence channels.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tally_websocket_connections",
		Help: "Number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped because a channel's
	// send buffer was full.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"component", "reason"})
)

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedRefreshes counts settled feed queries by outcome (ok, error, discarded).
	FeedRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postsync_feed_refreshes_total",
		Help: "Total number of feed queries by outcome",
	}, []string{"outcome"})

	// FeedRefreshesCoalesced counts refresh requests folded into a pending follow-up.
	FeedRefreshesCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postsync_feed_refreshes_coalesced_total",
		Help: "Refresh requests merged into an already pending refresh",
	})

	// ChangeEvents counts change notifications by what the manager did with them.
	ChangeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postsync_change_events_total",
		Help: "Change notifications received by feed managers",
	}, []string{"action"})

	// SubscriptionErrors counts failed or dropped live channels by transport.
	SubscriptionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postsync_subscription_errors_total",
		Help: "Live change subscriptions that failed to establish or dropped",
	}, []string{"transport"})

	// DraftSubmits counts submit attempts by outcome.
	DraftSubmits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postsync_draft_submits_total",
		Help: "Draft submit attempts by outcome",
	}, []string{"outcome"})

	// StoreLatency records remote store latency by operation.
	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postsync_store_latency_seconds",
		Help:    "Remote store latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// RedisErrors counts Redis errors by command.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postsync_redis_errors_total",
		Help: "Total number of Redis errors by command",
	}, []string{"command"})

	// ActiveSessions is the number of mounted feed sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postsync_active_sessions",
		Help: "Number of mounted feed sessions",
	})

	// WebSocketClients is the number of connected snapshot streams.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postsync_websocket_clients",
		Help: "Number of connected websocket snapshot streams",
	})
)

// TrackStore returns a function that records store latency when called (e.g. defer).
func TrackStore(operation string) func() {
	start := time.Now()
	return func() {
		StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Realtime layer
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "afrovibe_connections_active",
			Help: "Currently open realtime connections",
		},
	)

	EventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afrovibe_events_relayed_total",
			Help: "Realtime events delivered to rooms",
		},
		[]string{"event"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afrovibe_events_dropped_total",
			Help: "Inbound realtime events dropped at the boundary",
		},
		[]string{"reason"}, // "malformed", "unknown_event", "unauthorized"
	)

	// Business metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "afrovibe_messages_sent_total",
			Help: "Messages persisted through the send path",
		},
	)

	CallsInitiated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "afrovibe_calls_initiated_total",
			Help: "Call attempts that passed the gate",
		},
	)

	NotificationsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afrovibe_notifications_pushed_total",
			Help: "Notifications persisted and fanned out",
		},
		[]string{"type"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "afrovibe_rate_limit_hits_total",
			Help: "Attempts rejected by a limiter",
		},
		[]string{"limiter"}, // "message_window", "call_cooldown", "http_send"
	)
)

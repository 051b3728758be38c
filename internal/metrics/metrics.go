package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightningtalk_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lightningtalk_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Gateway metrics
	ChannelsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lightningtalk_ws_channels_open",
			Help: "Currently connected websocket channels",
		},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightningtalk_ws_connections_rejected_total",
			Help: "Connection attempts rejected at authentication",
		},
		[]string{"reason"},
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightningtalk_ws_messages_total",
			Help: "Inbound websocket messages by type",
		},
		[]string{"type"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lightningtalk_ws_rate_limit_hits_total",
			Help: "Messages rejected by the per-channel rate limiter",
		},
	)

	RoomJoinsDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightningtalk_ws_room_joins_denied_total",
			Help: "Room joins rejected by access policy",
		},
		[]string{"room_kind"},
	)

	DeliveriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lightningtalk_ws_deliveries_dropped_total",
			Help: "Outbound messages dropped because a channel buffer was full",
		},
	)

	// Voting metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lightningtalk_voting_sessions_created_total",
			Help: "Voting sessions created",
		},
	)

	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightningtalk_voting_sessions_ended_total",
			Help: "Voting sessions transitioned to ended",
		},
		[]string{"reason"}, // "explicit" or "expired"
	)

	VotesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lightningtalk_votes_accepted_total",
			Help: "Votes recorded",
		},
	)

	VotesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightningtalk_votes_rejected_total",
			Help: "Vote submissions rejected",
		},
		[]string{"reason"},
	)

	// Worker metrics
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightningtalk_worker_jobs_total",
			Help: "Background jobs processed",
		},
		[]string{"type", "outcome"},
	)
)

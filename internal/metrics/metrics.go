// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ember_ws_connections",
		Help: "Currently connected client sessions.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ember_queue_depth",
		Help: "Users currently waiting in the match queue.",
	})

	ActiveMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ember_active_matches",
		Help: "Match attempts in a non-terminal state.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ember_active_rooms",
		Help: "Rooms currently open.",
	})

	MatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_matches_created_total",
		Help: "Match attempts created by the matcher.",
	})

	MatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ember_match_outcomes_total",
		Help: "Terminal match attempt outcomes.",
	}, []string{"state"})

	RoomsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ember_rooms_closed_total",
		Help: "Rooms closed, by reason.",
	}, []string{"reason"})

	FramesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_frames_relayed_total",
		Help: "Signaling and control frames forwarded between peers.",
	})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ember_frames_dropped_total",
		Help: "Frames dropped instead of delivered, by reason.",
	}, []string{"reason"})

	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_event_publish_failures_total",
		Help: "Domain events that could not be published after retries.",
	})

	DirectoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ember_directory_requests_total",
		Help: "User directory lookups, by result.",
	}, []string{"result"})
)

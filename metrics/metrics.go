package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DuelsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeclash",
		Name:      "duels_started_total",
		Help:      "Duels that reached in_progress, by mode.",
	}, []string{"mode"})

	DuelsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeclash",
		Name:      "duels_finished_total",
		Help:      "Duels that reached a terminal status.",
	}, []string{"status"})

	ActiveDuels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codeclash",
		Name:      "duels_active",
		Help:      "Duels currently in progress.",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "codeclash",
		Name:      "matchmaking_queue_depth",
		Help:      "Tickets waiting in the matchmaking queue.",
	}, []string{"difficulty", "category"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codeclash",
		Name:      "websocket_connections",
		Help:      "Open duel websocket connections.",
	})

	JudgeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "codeclash",
		Name:      "judge_request_seconds",
		Help:      "Latency of judge execution requests.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

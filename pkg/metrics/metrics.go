// Package metrics holds the prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportchat_sessions_created_total",
		Help: "Sessions created, by kind.",
	}, []string{"kind"})

	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_messages_total",
		Help: "Durable messages appended to the session store.",
	})

	AssignConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_assign_conflicts_total",
		Help: "Assignment claims lost to an earlier claimant.",
	})

	FanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_fanout_dropped_total",
		Help: "Events dropped because a connection buffer was full or absent.",
	})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "supportchat_connections",
		Help: "Currently registered live connections.",
	})

	SessionsClosedIdle = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportchat_sessions_closed_idle_total",
		Help: "Waiting sessions closed by the retention janitor.",
	})
)

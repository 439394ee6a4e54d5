package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// registered once for the whole process, a hub only updates them
var (
	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions",
		Help: "Connected signaling sessions.",
	})
	viewersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_viewers",
		Help: "Viewers of the current broadcast.",
	})
	messagesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Inbound signaling messages by id.",
	}, []string{"id"})
	rejectionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rejections_total",
		Help: "Rejected requests by response id.",
	}, []string{"id"})
)

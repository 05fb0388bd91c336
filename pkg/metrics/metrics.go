package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections tracks live WebSocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lectern_active_connections",
			Help: "Number of live participant connections",
		},
	)

	// ActiveSessions tracks sessions with a connected instructor.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lectern_active_sessions",
			Help: "Number of active teaching sessions",
		},
	)

	// ActiveSubsessions tracks homework subsessions with at least one learner.
	ActiveSubsessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lectern_active_homework_subsessions",
			Help: "Number of live homework subsessions",
		},
	)

	// MessagesProcessed counts inbound frames by type.
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectern_messages_total",
			Help: "Total inbound messages processed",
		},
		[]string{"type"},
	)

	// MessagesRejected counts typed rejections returned to senders.
	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectern_rejections_total",
			Help: "Total messages rejected with a typed error",
		},
		[]string{"code"},
	)

	// SignalsRelayed counts forwarded signaling messages, including queued
	// candidates flushed after an answer.
	SignalsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectern_signals_relayed_total",
			Help: "Total signaling messages relayed between peers",
		},
		[]string{"kind"},
	)

	// ChatMessages counts private messages by delivery outcome
	// (delivered|retained).
	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lectern_chat_messages_total",
			Help: "Total private messages accepted",
		},
		[]string{"outcome"},
	)
)

// Handler exposes the default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

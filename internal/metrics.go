package internal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects relay counters on a private registry so several servers
// can live in one process (tests do this).
type Metrics struct {
	registry *prometheus.Registry

	// ActiveConnections is the number of open websocket connections.
	ActiveConnections prometheus.Gauge

	// Logins counts successful logins.
	Logins prometheus.Counter

	// Signups counts created accounts.
	Signups prometheus.Counter

	// ChatMessages counts chat messages relayed to all peers.
	ChatMessages prometheus.Counter

	// ChatRejections counts refused sends.
	// Labels: code (UNAUTHORIZED|BANNED|TIMEOUT_UNTIL|INTERNAL_ERROR)
	ChatRejections *prometheus.CounterVec

	// SignalingFrames counts offer/answer/candidate frames.
	// Labels: kind, result (forwarded|dropped)
	SignalingFrames *prometheus.CounterVec

	// ModerationActions counts applied moderation commands.
	// Labels: action (timeout|ban|unban)
	ModerationActions *prometheus.CounterVec

	// BroadcasterChanges counts broadcaster registrations.
	BroadcasterChanges prometheus.Counter

	// SlowClientsDropped counts peers disconnected because their send queue was full.
	SlowClientsDropped prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livecart_active_connections",
			Help: "Open websocket connections.",
		}),
		Logins: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecart_logins_total",
			Help: "Successful logins.",
		}),
		Signups: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecart_signups_total",
			Help: "Created accounts.",
		}),
		ChatMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecart_chat_messages_total",
			Help: "Chat messages relayed.",
		}),
		ChatRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecart_chat_rejections_total",
			Help: "Chat sends refused, by error code.",
		}, []string{"code"}),
		SignalingFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecart_signaling_frames_total",
			Help: "Signaling frames by kind and result.",
		}, []string{"kind", "result"}),
		ModerationActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livecart_moderation_actions_total",
			Help: "Applied moderation commands.",
		}, []string{"action"}),
		BroadcasterChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecart_broadcaster_changes_total",
			Help: "Broadcaster registrations.",
		}),
		SlowClientsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "livecart_slow_clients_dropped_total",
			Help: "Peers dropped because their send queue was full.",
		}),
	}
}

func (m *Metrics) IncConn() {
	if m != nil {
		m.ActiveConnections.Inc()
	}
}

func (m *Metrics) DecConn() {
	if m != nil {
		m.ActiveConnections.Dec()
	}
}

func (m *Metrics) IncLogin() {
	if m != nil {
		m.Logins.Inc()
	}
}

func (m *Metrics) IncSignup() {
	if m != nil {
		m.Signups.Inc()
	}
}

func (m *Metrics) chatRelayed() {
	if m != nil {
		m.ChatMessages.Inc()
	}
}

func (m *Metrics) chatRejected(code string) {
	if m != nil {
		m.ChatRejections.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) signal(kind string, forwarded bool) {
	if m == nil {
		return
	}
	result := "dropped"
	if forwarded {
		result = "forwarded"
	}
	m.SignalingFrames.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) moderation(action string) {
	if m != nil {
		m.ModerationActions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) broadcasterChanged() {
	if m != nil {
		m.BroadcasterChanges.Inc()
	}
}

func (m *Metrics) slowClientDropped() {
	if m != nil {
		m.SlowClientsDropped.Inc()
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

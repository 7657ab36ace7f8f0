package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for accepted messages.
const (
	OutcomePersisted         = "persisted"
	OutcomeDroppedBlocked    = "dropped_blocked"
	OutcomeDroppedUnresolved = "dropped_unresolved"
	OutcomeFailed            = "failed"
)

// Metrics holds the relay's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	onlineUsers      prometheus.Gauge
	presenceSessions prometheus.Gauge
	activeRelays     prometheus.Gauge
	relaySessions    prometheus.Gauge
	messages         *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	pushes           *prometheus.CounterVec
	pruned           *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_presence_online_users",
			Help: "Users currently present in the presence directory.",
		}),
		presenceSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_presence_sessions",
			Help: "Sockets attached to the presence directory.",
		}),
		activeRelays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_conversations_active",
			Help: "Conversation relays currently running.",
		}),
		relaySessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_conversation_sessions",
			Help: "Sockets attached to conversation relays.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Messages handled by relays grouped by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_status_transitions_total",
			Help: "Delivery status transitions grouped by target status.",
		}, []string{"status"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_push_dispatch_total",
			Help: "Push notification dispatches grouped by result.",
		}, []string{"result"}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_pruned_total",
			Help: "Sessions removed after a failed send, grouped by actor.",
		}, []string{"actor"}),
	}

	reg.MustRegister(
		m.onlineUsers,
		m.presenceSessions,
		m.activeRelays,
		m.relaySessions,
		m.messages,
		m.transitions,
		m.pushes,
		m.pruned,
	)
	return m
}

func (m *Metrics) SetPresence(users, sessions int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(users))
	m.presenceSessions.Set(float64(sessions))
}

func (m *Metrics) RelayStarted() {
	if m == nil {
		return
	}
	m.activeRelays.Inc()
}

func (m *Metrics) RelayStopped() {
	if m == nil {
		return
	}
	m.activeRelays.Dec()
}

func (m *Metrics) AddRelaySessions(delta int) {
	if m == nil {
		return
	}
	m.relaySessions.Add(float64(delta))
}

func (m *Metrics) RecordMessage(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordPush(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.pushes.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordPrune(actor string) {
	if m == nil {
		return
	}
	m.pruned.WithLabelValues(actor).Inc()
}

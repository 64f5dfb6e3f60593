package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/betbot/botvisor/internal/domain"
	"github.com/betbot/botvisor/internal/supervisor"
)

const namespace = "botvisor"

// Metrics holds the prometheus collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	connected          *prometheus.GaugeVec
	state              *prometheus.GaugeVec
	reconnectAttempts  *prometheus.CounterVec
	reconnectExhausted *prometheus.CounterVec
	commands           *prometheus.CounterVec
	subscribers        prometheus.Gauge
	broadcasts         *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bot_connected",
			Help:      "1 while the bot holds a live protocol connection.",
		}, []string{"bot"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bot_state",
			Help:      "Current supervisor state, one-hot per bot.",
		}, []string{"bot", "state"}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnection attempts.",
		}, []string{"bot"}),
		reconnectExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Times the reconnection budget ran out.",
		}, []string{"bot"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched, by result.",
		}, []string{"bot", "result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected observer streams.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_messages_total",
			Help:      "Messages fanned out, by type.",
		}, []string{"type"}),
	}
	for _, c := range []prometheus.Collector{
		m.connected, m.state, m.reconnectAttempts, m.reconnectExhausted,
		m.commands, m.subscribers, m.broadcasts,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) SetState(bot domain.BotLabel, state string, connected bool) {
	if m == nil {
		return
	}
	for _, s := range supervisor.AllStates {
		v := 0.0
		if s.String() == state {
			v = 1
		}
		m.state.WithLabelValues(string(bot), s.String()).Set(v)
	}
	c := 0.0
	if connected {
		c = 1
	}
	m.connected.WithLabelValues(string(bot)).Set(c)
}

func (m *Metrics) ReconnectAttempt(bot domain.BotLabel) {
	if m == nil {
		return
	}
	m.reconnectAttempts.WithLabelValues(string(bot)).Inc()
}

func (m *Metrics) ReconnectExhausted(bot domain.BotLabel) {
	if m == nil {
		return
	}
	m.reconnectExhausted.WithLabelValues(string(bot)).Inc()
}

func (m *Metrics) Command(bot domain.BotLabel, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.commands.WithLabelValues(string(bot), result).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) Broadcast(kind string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(kind).Inc()
}

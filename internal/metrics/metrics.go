// Package metrics holds the prometheus collectors of the signaling server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meshvoice"

type Metrics struct {
	Rooms     prometheus.Gauge
	Sessions  prometheus.Gauge
	Voice     prometheus.Gauge
	Relayed   *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Malformed prometheus.Counter
	Kicked    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Rooms with at least one member.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions",
			Help: "Connections that joined a room.",
		}),
		Voice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "voice_participants",
			Help: "Sessions currently in voice.",
		}),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relayed_messages_total",
			Help: "Signaling messages delivered to recipients, by type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_messages_total",
			Help: "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "malformed_frames_total",
			Help: "Frames that could not be parsed.",
		}),
		Kicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "kicked_members_total",
			Help: "Members disconnected by the backpressure policy.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Rooms, m.Sessions, m.Voice, m.Relayed, m.Dropped, m.Malformed, m.Kicked)
	}
	return m
}

func (m *Metrics) RoomCreated() {
	if m != nil {
		m.Rooms.Inc()
	}
}

func (m *Metrics) RoomDeleted() {
	if m != nil {
		m.Rooms.Dec()
	}
}

func (m *Metrics) SessionJoined() {
	if m != nil {
		m.Sessions.Inc()
	}
}

func (m *Metrics) SessionLeft() {
	if m != nil {
		m.Sessions.Dec()
	}
}

func (m *Metrics) VoiceChanged(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Voice.Inc()
	} else {
		m.Voice.Dec()
	}
}

func (m *Metrics) Relay(msgType string, n int) {
	if m != nil && n > 0 {
		m.Relayed.WithLabelValues(msgType).Add(float64(n))
	}
}

func (m *Metrics) Drop(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) MalformedFrame() {
	if m != nil {
		m.Malformed.Inc()
	}
}

func (m *Metrics) Kick() {
	if m != nil {
		m.Kicked.Inc()
	}
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RoomCreated()
	m.Relay("offer", 3)
	m.Drop("no_session")
	m.VoiceChanged(true)
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RoomCreated()
	m.RoomCreated()
	m.RoomDeleted()
	m.Relay("offer", 2)
	m.Relay("offer", 0)
	m.Drop("malformed")

	if got := testutil.ToFloat64(m.Rooms); got != 1 {
		t.Errorf("rooms = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Relayed.WithLabelValues("offer")); got != 2 {
		t.Errorf("relayed offer = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues("malformed")); got != 1 {
		t.Errorf("dropped malformed = %v, want 1", got)
	}
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestTransportCounterAddIncrementsLabeledSeries(t *testing.T) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_bytes_total",
	}, []string{"server", "direction"})
	c := NewTransportCounter(vec)

	c.Add("peer-a", "up", 128)
	c.Add("peer-a", "up", 32)

	m := &dto.Metric{}
	if err := vec.WithLabelValues("peer-a", "up").Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 160 {
		t.Fatalf("counter = %v, want 160", got)
	}
}

func TestTransportCounterAddOnNilVecDoesNotPanic(t *testing.T) {
	var c TransportCounter
	c.Add("peer-a", "down", 10)
}

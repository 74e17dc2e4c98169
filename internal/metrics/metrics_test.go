package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.WithLabelValues(labels...).Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveRecvDropIncrementsCounter(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.ObserveRecvDrop(2)
	reg.ObserveRecvDrop(2)
	if got := counterValue(t, reg.RecvDrops, "2"); got != 2 {
		t.Fatalf("RecvDrops{ni=2} = %v, want 2", got)
	}
}

func TestObserveCTBumpSplitsSuccessFailure(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.ObserveCTBump(0, true)
	reg.ObserveCTBump(0, true)
	reg.ObserveCTBump(0, false)

	if got := counterValue(t, reg.CTSuccess, "0"); got != 2 {
		t.Fatalf("CTSuccess{ni=0} = %v, want 2", got)
	}
	if got := counterValue(t, reg.CTFailure, "0"); got != 1 {
		t.Fatalf("CTFailure{ni=0} = %v, want 1", got)
	}
}

func TestObserveConnStateSetsGauge(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.ObserveConnState(1, 42, 4)

	m := &dto.Metric{}
	if err := reg.ConnState.WithLabelValues("1", "42").Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 4 {
		t.Fatalf("ConnState = %v, want 4", got)
	}
}

func TestObserveLatencyRecordsObservation(t *testing.T) {
	reg := NewRegistry(prometheus.NewRegistry())
	reg.ObserveLatency(0, 0.001)

	m := &dto.Metric{}
	if err := reg.XILatency.WithLabelValues("0").(prometheus.Histogram).Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("sample count = %d, want 1", m.GetHistogram().GetSampleCount())
	}
}

package portals4

import (
	"testing"
	"time"
)

func TestMetricsInitialState(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	if snap.SendOps != 0 || snap.RecvOps != 0 || snap.RecvDrops != 0 || snap.RecvErrs != 0 {
		t.Errorf("fresh Metrics should start at zero, got %+v", snap)
	}
}

func TestMetricsRecordCTBump(t *testing.T) {
	m := NewMetrics()
	m.RecordCTBump(true)
	m.RecordCTBump(true)
	m.RecordCTBump(false)

	snap := m.Snapshot()
	if snap.CTSuccess != 2 {
		t.Errorf("CTSuccess = %d, want 2", snap.CTSuccess)
	}
	if snap.CTFailure != 1 {
		t.Errorf("CTFailure = %d, want 1", snap.CTFailure)
	}
}

func TestMetricsRecordSendAndRecv(t *testing.T) {
	m := NewMetrics()
	m.RecordSend()
	m.RecordSend()
	m.RecordRecv()
	m.RecordRecvDrop()
	m.RecordRecvErr()

	snap := m.Snapshot()
	if snap.SendOps != 2 {
		t.Errorf("SendOps = %d, want 2", snap.SendOps)
	}
	if snap.RecvOps != 1 {
		t.Errorf("RecvOps = %d, want 1", snap.RecvOps)
	}
	if snap.RecvDrops != 1 {
		t.Errorf("RecvDrops = %d, want 1", snap.RecvDrops)
	}
	if snap.RecvErrs != 1 {
		t.Errorf("RecvErrs = %d, want 1", snap.RecvErrs)
	}
}

func TestMetricsUptimeFreezesAfterStop(t *testing.T) {
	m := NewMetrics()
	time.Sleep(2 * time.Millisecond)

	m.Stop()
	first := m.Snapshot().UptimeNs
	time.Sleep(2 * time.Millisecond)
	second := m.Snapshot().UptimeNs

	if first != second {
		t.Errorf("UptimeNs should be frozen after Stop, got %d then %d", first, second)
	}
	if first == 0 {
		t.Error("UptimeNs should be nonzero once some time has elapsed")
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordSend()
	m.RecordRecvDrop()
	m.Reset()

	snap := m.Snapshot()
	if snap.SendOps != 0 || snap.RecvDrops != 0 {
		t.Errorf("Reset should zero counters, got %+v", snap)
	}
}

func TestNoOpObserverSatisfiesInterface(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.ObserveRecvDrop(0)
	o.ObserveRecvErr(0)
	o.ObserveCTBump(0, true)
	o.ObserveConnState(0, 1, 0)
	o.ObserveLatency(0, 0.001)
}

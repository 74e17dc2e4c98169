package portals4

import (
	"sync/atomic"
	"time"
)

// Metrics tracks the plain-atomic counters that are part of the data
// model itself — the counting-event success/failure totals an NI's
// invariants are defined over — as distinct from the Prometheus-backed
// ambient observability in internal/metrics. A NI's Observer (if set)
// is called alongside the receive-drop and CT bumps here (send, receive
// and receive-error counts are not observed), mirroring them out for
// external visibility without making them load-bearing for engine
// correctness.
type Metrics struct {
	CTSuccess atomic.Uint64
	CTFailure atomic.Uint64

	RecvDrops atomic.Uint64
	RecvErrs  atomic.Uint64

	SendOps  atomic.Uint64
	RecvOps  atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance for one NI.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCTBump records a counting-event increment.
func (m *Metrics) RecordCTBump(success bool) {
	if success {
		m.CTSuccess.Add(1)
	} else {
		m.CTFailure.Add(1)
	}
}

// RecordRecvDrop records a dropped receive (no matching LE/ME, or a
// DropBuf decision on the receive path).
func (m *Metrics) RecordRecvDrop() { m.RecvDrops.Add(1) }

// RecordRecvErr records a receive-path error (bad header version,
// transport failure before the message could be classified).
func (m *Metrics) RecordRecvErr() { m.RecvErrs.Add(1) }

// RecordSend records one message posted by the initiator state machine.
func (m *Metrics) RecordSend() { m.SendOps.Add(1) }

// RecordRecv records one message accepted by the target state machine.
func (m *Metrics) RecordRecv() { m.RecvOps.Add(1) }

// Stop marks the NI as torn down.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// MetricsSnapshot is a point-in-time copy of Metrics, safe to log or
// serve from a status endpoint without racing the live counters.
type MetricsSnapshot struct {
	CTSuccess uint64
	CTFailure uint64
	RecvDrops uint64
	RecvErrs  uint64
	SendOps   uint64
	RecvOps   uint64
	UptimeNs  uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		CTSuccess: m.CTSuccess.Load(),
		CTFailure: m.CTFailure.Load(),
		RecvDrops: m.RecvDrops.Load(),
		RecvErrs:  m.RecvErrs.Load(),
		SendOps:   m.SendOps.Load(),
		RecvOps:   m.RecvOps.Load(),
	}
	start := m.StartTime.Load()
	if stop := m.StopTime.Load(); stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}
	return snap
}

// Reset zeroes all counters (testing only).
func (m *Metrics) Reset() {
	m.CTSuccess.Store(0)
	m.CTFailure.Store(0)
	m.RecvDrops.Store(0)
	m.RecvErrs.Store(0)
	m.SendOps.Store(0)
	m.RecvOps.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows a NI's metric bumps to be mirrored to an external
// sink (internal/metrics.Registry in production, a test double in
// tests) without the core engine importing Prometheus directly.
type Observer interface {
	ObserveRecvDrop(niIndex uint16)
	ObserveRecvErr(niIndex uint16)
	ObserveCTBump(niIndex uint16, success bool)
	ObserveConnState(niIndex uint16, peerID uint64, state int)
	ObserveLatency(niIndex uint16, seconds float64)
}

// NoOpObserver discards every observation; the default until a NI is
// configured with a real Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRecvDrop(uint16)               {}
func (NoOpObserver) ObserveRecvErr(uint16)                {}
func (NoOpObserver) ObserveCTBump(uint16, bool)           {}
func (NoOpObserver) ObserveConnState(uint16, uint64, int) {}
func (NoOpObserver) ObserveLatency(uint16, float64)       {}

var _ Observer = (*NoOpObserver)(nil)

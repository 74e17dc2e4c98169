// Package interfaces defines the opaque boundary facades the message
// engine drives but does not implement itself: memory registration /
// RDMA verbs and cross-process KNEM copy. Kept separate from the
// concrete transport packages to avoid import cycles between
// internal/transport, internal/region, and internal/connmgr.
package interfaces

// VerbsProvider is the boundary to an RDMA verbs library (or a kernel
// bypass equivalent). internal/transport/rdmaverbs drives this facade
// for QP bookkeeping and completion classification only; it never
// issues raw verbs syscalls itself.
type VerbsProvider interface {
	RegisterRegion(addr uintptr, length uint64) (rkey uint32, err error)
	DeregisterRegion(rkey uint32) error

	CreateQP(peerID uint64) (qpNum uint32, err error)
	DestroyQP(qpNum uint32) error

	PostSend(qpNum uint32, data []byte, userData uint64) error
	PostRecv(qpNum uint32, buf []byte, userData uint64) error
	PostRDMARead(qpNum uint32, localBuf []byte, remoteAddr uint64, rkey uint32, userData uint64) error
	PostRDMAWrite(qpNum uint32, localBuf []byte, remoteAddr uint64, rkey uint32, userData uint64) error

	// PollCQ drains up to max completions, blocking no longer than
	// timeoutMicros (0 = non-blocking).
	PollCQ(max int, timeoutMicros int) ([]VerbsCompletion, error)
}

// VerbsCompletion is one entry returned by VerbsProvider.PollCQ.
type VerbsCompletion struct {
	UserData uint64
	QPNum    uint32
	Bytes    uint32
	Err      error
}

// KnemProvider is the boundary to a KNEM-style cross-process copy
// facility, used by internal/transport/shmem for transfers too large
// for a scatter-gather memcpy to be worthwhile.
type KnemProvider interface {
	// RegisterRegion exposes a local buffer for remote copy, returning
	// a cookie the peer presents back to CopyFrom/CopyTo.
	RegisterRegion(addr uintptr, length uint64) (cookie uint64, err error)
	DeregisterRegion(cookie uint64) error

	CopyFrom(cookie uint64, offset uint64, dst []byte) error
	CopyTo(cookie uint64, offset uint64, src []byte) error
}

// Logger is the narrow logging interface the transport/connmgr packages
// depend on, satisfied by internal/logging's hclog-backed wrapper.
type Logger interface {
	Trace(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Observer mirrors the teacher's pluggable metrics sink, generalized to
// the Portals4 counter set (SPEC_FULL.md ambient metrics section).
// Implementations must be safe for concurrent calls from the dispatch
// goroutine.
type Observer interface {
	ObserveRecvDrop(niIndex uint16)
	ObserveRecvErr(niIndex uint16)
	ObserveCTBump(niIndex uint16, success bool)
	ObserveConnState(niIndex uint16, peerID uint64, state int)
	ObserveLatency(niIndex uint16, seconds float64)
}

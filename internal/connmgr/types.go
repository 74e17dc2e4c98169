// Package connmgr tracks per-peer connection state for a NI, mirroring
// the teacher's ctrl.Controller (AddDevice/SetParams/StartDevice) but
// over RDMA-CM-style connect/reject arbitration instead of the ublk
// control ring: Resolve/Connect/Accept/Disconnect replace
// AddDevice/SetParams/StartDevice, and a per-peer Conn record replaces
// the single Device record.
package connmgr

import "sync"

// State is a connection's position in the RDMA-CM-style handshake.
type State int

const (
	Disconnected State = iota
	ResolvingAddr
	ResolvingRoute
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case ResolvingAddr:
		return "resolving_addr"
	case ResolvingRoute:
		return "resolving_route"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// RejectReason is carried in the private payload of a connect reject.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectNoNI
	RejectGoodSRQ
	RejectBadParam
	RejectConnected
	RejectConnecting
	RejectError
)

func (r RejectReason) String() string {
	switch r {
	case RejectNoNI:
		return "NO_NI"
	case RejectGoodSRQ:
		return "GOOD_SRQ"
	case RejectBadParam:
		return "BAD_PARAM"
	case RejectConnected:
		return "CONNECTED"
	case RejectConnecting:
		return "CONNECTING"
	case RejectError:
		return "ERROR"
	default:
		return "NONE"
	}
}

// PeerID identifies a peer for a logical or physical NI.
type PeerID struct {
	// Rank is used by LogicalMap addressing.
	Rank int
	// NID/PID are used by PhysicalTree addressing (§3 lexicographic
	// comparator: compare NID first, then PID).
	NID uint32
	PID uint32
}

// Less implements the lexicographic (NID, PID) comparator PhysicalTree
// needs for its AVL ordering.
func (p PeerID) Less(o PeerID) bool {
	if p.NID != o.NID {
		return p.NID < o.NID
	}
	return p.PID < o.PID
}

const maxRetries = 3

// XRCDomain is the optional shared-receive-queue-group context for a
// connection using XRC transport mode. Resolves the "XRC path" open
// question: no separate code path, just an optional field on Conn
// sharing the same state machine.
type XRCDomain struct {
	SRQNum uint32
}

// Conn is one peer's connection record. Every state transition and
// buf_list mutation happens under mu, mirroring the teacher's
// per-device Controller locking granularity generalized to per-peer.
type Conn struct {
	mu sync.Mutex

	Peer  PeerID
	State State

	retries int

	localDisc  int // 0, 1 (sent), 2 (send-completed)
	remoteDisc int // 0, 1 (received)

	// bufList holds requests produced while not yet Connected; flushed
	// FIFO into the initiator/target state machines on Connect.
	bufList [][]byte

	XRCDomain *XRCDomain
}

func newConn(peer PeerID) *Conn {
	return &Conn{Peer: peer, State: Disconnected}
}

// Snapshot is a point-in-time, lock-free-to-read copy of a Conn's
// externally visible fields, for status/metrics reporting.
type Snapshot struct {
	Peer       PeerID
	State      State
	Retries    int
	LocalDisc  int
	RemoteDisc int
	Queued     int
}

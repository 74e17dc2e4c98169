package connmgr

import (
	"sync"

	"github.com/musleh123/portals4/internal/logging"
)

// Controller owns every peer connection for one NI. It mirrors the
// teacher's ctrl.Controller in spirit — a single object serializing
// control-plane transitions — but keyed per-peer instead of per-device,
// and driven by connect/accept/reject arbitration instead of an
// ADD_DEV/SET_PARAMS/START_DEV ioctl sequence.
type Controller struct {
	mu     sync.RWMutex
	conns  map[PeerID]*Conn
	selfID PeerID
	logger logging.Logger
}

// NewController creates a connection manager for the NI identified by
// self (this rank's own PeerID, used for the simultaneous-connect
// tie-break and loopback detection).
func NewController(self PeerID) *Controller {
	return &Controller{
		conns:  make(map[PeerID]*Conn),
		selfID: self,
		logger: logging.Default(),
	}
}

// Resolve returns the connection record for peer, lazily creating it in
// Disconnected state on first reference (spec.md §4.E).
func (c *Controller) Resolve(peer PeerID) *Conn {
	c.mu.RLock()
	conn, ok := c.conns[peer]
	c.mu.RUnlock()
	if ok {
		return conn
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok = c.conns[peer]; ok {
		return conn
	}
	conn = newConn(peer)
	c.conns[peer] = conn
	return conn
}

// Connect drives conn through the RDMA-CM connect sequence, one step
// per call, so each resolve/connect step can be retried independently
// with the caller's own backoff. On the final step it transitions to
// Connected and the caller should then call Flush to replay any
// requests queued while the connection was establishing.
func (c *Controller) Connect(conn *Conn) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	switch conn.State {
	case Disconnected:
		conn.State = ResolvingAddr
		conn.retries = 0
	case ResolvingAddr:
		conn.State = ResolvingRoute
	case ResolvingRoute:
		conn.State = Connecting
	case Connecting:
		conn.State = Connected
	case Connected:
		// already there
	}
}

// Fail records a failed resolve/connect step. Once maxRetries is
// exhausted it reverts the connection to Disconnected and returns any
// requests that were queued for it, for the caller to fail upward.
func (c *Controller) Fail(conn *Conn) (failed [][]byte) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	conn.retries++
	if conn.retries < maxRetries {
		return nil
	}

	conn.State = Disconnected
	conn.retries = 0
	failed = conn.bufList
	conn.bufList = nil
	return failed
}

// Accept implements simultaneous-connect tie-break (spec.md §4.E):
// when both peers initiate at once, the higher peer-id side accepts
// and the lower side rejects with RejectConnecting. Ids compare by
// (NID, PID), then by Rank when those are equal. Equal ids (loopback)
// always accept via the distinct self-accept path.
func (c *Controller) Accept(local, remote PeerID) (accept bool, reason RejectReason) {
	if local == remote {
		return true, RejectNone
	}
	lower := local.Less(remote)
	if !lower && !remote.Less(local) {
		lower = local.Rank < remote.Rank
	}
	if lower {
		return false, RejectConnecting
	}
	return true, RejectNone
}

// Enqueue appends data to conn's bufList while the connection is not
// yet Connected (spec.md §4.E "Queueing during connect"). It reports
// true if the connection was already Connected, meaning the caller
// should send directly instead of queueing.
func (c *Controller) Enqueue(conn *Conn, data []byte) (readyNow bool) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.State == Connected {
		return true
	}
	conn.bufList = append(conn.bufList, data)
	return false
}

// Flush returns and clears conn's queued bytes; called once Connected
// so the dispatcher can replay them FIFO into the initiator/target
// state machines.
func (c *Controller) Flush(conn *Conn) [][]byte {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	queued := conn.bufList
	conn.bufList = nil
	return queued
}

// LocalDisconnect begins the graceful-disconnect handshake by marking
// local_disc=1 (send issued). Call LocalDisconnectComplete once the
// RDMA_DISC send completes.
func (c *Controller) LocalDisconnect(conn *Conn) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.localDisc = 1
}

// LocalDisconnectComplete marks local_disc=2 (send completed) and
// reports whether both sides have now reached their terminal
// disconnect value, meaning transport resources may be torn down.
func (c *Controller) LocalDisconnectComplete(conn *Conn) (teardown bool) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.localDisc = 2
	return conn.localDisc == 2 && conn.remoteDisc == 1
}

// RemoteDisconnect records receipt of the peer's RDMA_DISC header.
func (c *Controller) RemoteDisconnect(conn *Conn) (teardown bool) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.remoteDisc = 1
	return conn.localDisc == 2 && conn.remoteDisc == 1
}

// Teardown removes conn from the controller and resets it to
// Disconnected, releasing any XRC domain reference. Caller must have
// already confirmed teardown via LocalDisconnectComplete/RemoteDisconnect.
func (c *Controller) Teardown(conn *Conn) {
	conn.mu.Lock()
	conn.State = Disconnected
	conn.localDisc = 0
	conn.remoteDisc = 0
	conn.XRCDomain = nil
	peer := conn.Peer
	conn.mu.Unlock()

	c.mu.Lock()
	delete(c.conns, peer)
	c.mu.Unlock()
}

// Snapshot returns a point-in-time copy of conn's state for status
// reporting and tests.
func (c *Controller) Snapshot(conn *Conn) Snapshot {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return Snapshot{
		Peer:       conn.Peer,
		State:      conn.State,
		Retries:    conn.retries,
		LocalDisc:  conn.localDisc,
		RemoteDisc: conn.remoteDisc,
		Queued:     len(conn.bufList),
	}
}

// Len reports the number of peers this controller currently tracks.
func (c *Controller) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

package connmgr

import "testing"

func TestResolveLazilyCreatesDisconnected(t *testing.T) {
	c := NewController(PeerID{Rank: 0})
	conn := c.Resolve(PeerID{Rank: 1})

	if conn.State != Disconnected {
		t.Errorf("State = %v, want Disconnected", conn.State)
	}
	if c.Resolve(PeerID{Rank: 1}) != conn {
		t.Error("Resolve should return the same Conn for the same peer")
	}
}

func TestConnectSequence(t *testing.T) {
	c := NewController(PeerID{Rank: 0})
	conn := c.Resolve(PeerID{Rank: 1})

	want := []State{ResolvingAddr, ResolvingRoute, Connecting, Connected}
	for i, w := range want {
		c.Connect(conn)
		if conn.State != w {
			t.Fatalf("step %d: State = %v, want %v", i, conn.State, w)
		}
	}
}

func TestFailRetriesThenDisconnects(t *testing.T) {
	c := NewController(PeerID{Rank: 0})
	conn := c.Resolve(PeerID{Rank: 1})
	c.Connect(conn) // -> ResolvingAddr

	c.Enqueue(conn, []byte("queued"))

	if failed := c.Fail(conn); failed != nil {
		t.Fatalf("Fail() on attempt 1 = %v, want nil", failed)
	}
	if failed := c.Fail(conn); failed != nil {
		t.Fatalf("Fail() on attempt 2 = %v, want nil", failed)
	}
	failed := c.Fail(conn)
	if conn.State != Disconnected {
		t.Errorf("State after exhausting retries = %v, want Disconnected", conn.State)
	}
	if len(failed) != 1 {
		t.Fatalf("failed requests = %d, want 1", len(failed))
	}
}

func TestAcceptTieBreak(t *testing.T) {
	c := NewController(PeerID{Rank: 0})
	lower := PeerID{Rank: 1}
	higher := PeerID{Rank: 2}

	if accept, reason := c.Accept(lower, higher); accept || reason != RejectConnecting {
		t.Errorf("lower-id Accept = (%v, %v), want (false, RejectConnecting)", accept, reason)
	}
	if accept, _ := c.Accept(higher, lower); !accept {
		t.Error("higher-id Accept should be true")
	}
	if accept, reason := c.Accept(lower, lower); !accept || reason != RejectNone {
		t.Errorf("self-accept Accept = (%v, %v), want (true, RejectNone)", accept, reason)
	}
}

func TestEnqueueAndFlush(t *testing.T) {
	c := NewController(PeerID{Rank: 0})
	conn := c.Resolve(PeerID{Rank: 1})

	if ready := c.Enqueue(conn, []byte("a")); ready {
		t.Error("Enqueue on Disconnected conn should not be ready now")
	}
	c.Enqueue(conn, []byte("b"))

	for conn.State != Connected {
		c.Connect(conn)
	}

	flushed := c.Flush(conn)
	if len(flushed) != 2 {
		t.Fatalf("flushed = %d entries, want 2", len(flushed))
	}
	if string(flushed[0]) != "a" || string(flushed[1]) != "b" {
		t.Errorf("flushed order = %v, want FIFO [a b]", flushed)
	}
	if more := c.Flush(conn); more != nil {
		t.Error("second Flush should return nil")
	}
}

func TestEnqueueReadyNowWhenConnected(t *testing.T) {
	c := NewController(PeerID{Rank: 0})
	conn := c.Resolve(PeerID{Rank: 1})
	for conn.State != Connected {
		c.Connect(conn)
	}

	if ready := c.Enqueue(conn, []byte("x")); !ready {
		t.Error("Enqueue on a Connected conn should report readyNow=true")
	}
}

func TestGracefulDisconnectHandshake(t *testing.T) {
	c := NewController(PeerID{Rank: 0})
	conn := c.Resolve(PeerID{Rank: 1})

	c.LocalDisconnect(conn)
	if teardown := c.LocalDisconnectComplete(conn); teardown {
		t.Error("teardown should not fire until remote side also reaches terminal value")
	}
	if teardown := c.RemoteDisconnect(conn); !teardown {
		t.Error("teardown should fire once both sides are at their terminal disconnect value")
	}
}

func TestTeardownRemovesConn(t *testing.T) {
	c := NewController(PeerID{Rank: 0})
	conn := c.Resolve(PeerID{Rank: 1})
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	c.Teardown(conn)
	if c.Len() != 0 {
		t.Errorf("Len() after Teardown = %d, want 0", c.Len())
	}
}

func TestPeerIDLessLexicographic(t *testing.T) {
	a := PeerID{NID: 1, PID: 5}
	b := PeerID{NID: 1, PID: 6}
	cc := PeerID{NID: 2, PID: 0}

	if !a.Less(b) {
		t.Error("a should be less than b by PID when NID ties")
	}
	if !b.Less(cc) {
		t.Error("b should be less than c by NID")
	}
	if cc.Less(a) {
		t.Error("c should not be less than a")
	}
}

package eq

import (
	"testing"

	"github.com/musleh123/portals4/internal/wire"
)

func TestEnqueueReadFIFOWithIncreasingSequence(t *testing.T) {
	q := New(4)
	q.Enqueue(Event{Type: wire.EventPut, PeerRank: 1})
	q.Enqueue(Event{Type: wire.EventAck, PeerRank: 2})

	first, dropped, ok := q.Read()
	if !ok || dropped {
		t.Fatalf("first Read: ok=%v dropped=%v", ok, dropped)
	}
	if first.Type != wire.EventPut || first.Sequence != 1 {
		t.Errorf("first = %+v, want Type=EventPut Sequence=1", first)
	}

	second, _, ok := q.Read()
	if !ok {
		t.Fatal("second Read should succeed")
	}
	if second.Type != wire.EventAck || second.Sequence != 2 {
		t.Errorf("second = %+v, want Type=EventAck Sequence=2", second)
	}
}

func TestReadEmptyReturnsNotOK(t *testing.T) {
	q := New(2)
	_, dropped, ok := q.Read()
	if ok || dropped {
		t.Errorf("Read on empty EQ: ok=%v dropped=%v, want false/false", ok, dropped)
	}
}

func TestOverflowOverwritesOldestAndReportsDroppedOnce(t *testing.T) {
	q := New(2)
	q.Enqueue(Event{Type: wire.EventPut, Sequence: 0})
	q.Enqueue(Event{Type: wire.EventAck, Sequence: 0})
	q.Enqueue(Event{Type: wire.EventReply, Sequence: 0}) // overwrites the PUT

	ev, dropped, ok := q.Read()
	if !ok || !dropped {
		t.Fatalf("first Read after overflow: ok=%v dropped=%v, want true/true", ok, dropped)
	}
	if ev.Type != wire.EventAck {
		t.Errorf("oldest surviving event = %v, want EventAck (PUT should have been evicted)", ev.Type)
	}

	_, dropped, ok = q.Read()
	if !ok || dropped {
		t.Errorf("second Read: ok=%v dropped=%v, want true/false (drop already reported)", ok, dropped)
	}
}

func TestLenAndCap(t *testing.T) {
	q := New(8)
	if q.Cap() != 8 {
		t.Errorf("Cap() = %d, want 8", q.Cap())
	}
	q.Enqueue(Event{})
	q.Enqueue(Event{})
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
	q.Read()
	if q.Len() != 1 {
		t.Errorf("Len() after one Read = %d, want 1", q.Len())
	}
}

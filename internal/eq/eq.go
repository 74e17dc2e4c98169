// Package eq implements the Portals4 event queue (component, spec.md §3
// "Event queue (EQ)"): a bounded ring of event records with a monotonic
// sequence number, overflow detected and reported on the next read.
//
// Grounded on internal/shmq/ring.go's head/count ring-indexing idiom
// (offset arithmetic into a fixed-capacity array rather than a growable
// slice), generalized from a byte-fragment queue to a queue of typed
// event records, and guarded by one mutex the way the teacher's own
// single-consumer structures are rather than shmq's lock-free MPSC
// design — an EQ has exactly one reader (the owning NI) and many
// writers (every effect-executing transaction on that NI), so a short
// critical section per Enqueue/Read is simpler than a lock-free ring
// and still never blocks the progress thread for long.
package eq

import (
	"sync"

	"github.com/musleh123/portals4/internal/wire"
)

// Event is one record delivered on an EQ (spec.md §6 "Events").
type Event struct {
	Type        wire.EventType
	Fail        wire.NIFail
	Sequence    uint64
	PeerRank    int
	MatchBits   uint64
	HeaderData  uint64
	RLength     int64
	MatchOffset int64
}

// EQ is a bounded ring of Events. Zero value is not usable; use New.
type EQ struct {
	mu      sync.Mutex
	ring    []Event
	head    int
	count   int
	seq     uint64
	dropped bool
}

// New creates an EQ with the given capacity (rounded up to 1).
func New(capacity int) *EQ {
	if capacity <= 0 {
		capacity = 1
	}
	return &EQ{ring: make([]Event, capacity)}
}

// Enqueue appends ev, stamping it with the next monotonic sequence
// number. When the ring is full, the oldest unread event is overwritten
// and the EQ is marked dropped — spec.md §3's "overflow is detected and
// reported on the next read" — rather than blocking the caller (a full
// EQ must never stall the progress thread that is trying to deliver
// into it).
func (q *EQ) Enqueue(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	ev.Sequence = q.seq

	idx := (q.head + q.count) % len(q.ring)
	if q.count == len(q.ring) {
		q.dropped = true
		q.head = (q.head + 1) % len(q.ring)
	} else {
		q.count++
	}
	q.ring[idx] = ev
}

// Read pops the oldest unread event. ok is false when the EQ is empty
// (PTL_EQ_EMPTY). dropped reports whether at least one event was
// overwritten since the last Read that itself reported a drop —
// PTL_EQ_DROPPED is surfaced exactly once, on the read that first
// observes it, then cleared.
func (q *EQ) Read() (ev Event, dropped bool, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		dropped, q.dropped = q.dropped, false
		return Event{}, dropped, false
	}
	ev = q.ring[q.head]
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	dropped, q.dropped = q.dropped, false
	return ev, dropped, true
}

// Len reports the number of unread events currently buffered.
func (q *EQ) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap reports the ring's fixed capacity.
func (q *EQ) Cap() int {
	return len(q.ring)
}

// Package match implements the Portals4 matching engine (component F):
// per-portal-table priority and overflow lists of list entries,
// searched FIFO against an incoming request's match bits, id, and
// operation, with the truncation and manage_local/use_once unlink
// rules of spec.md §4.F. New code — the teacher has no analogous
// matching structure — disciplined on the teacher's convention of one
// mutex per mutable collection (here, per PT) rather than per-entry
// locking, since the priority/overflow lists are walked and mutated as
// a unit.
package match

import (
	"container/list"
	"sync"

	"github.com/musleh123/portals4/internal/region"
)

// IDFilter restricts a ListEntry to one peer, or PTL_RANK_ANY
// (AnyID == true) for wildcard matching.
type IDFilter struct {
	AnyID bool
	Rank  int
}

func (f IDFilter) Accepts(rank int) bool {
	return f.AnyID || f.Rank == rank
}

// OpMask is a bitmask of request operations a ListEntry permits.
type OpMask uint16

const (
	OpMaskPut OpMask = 1 << iota
	OpMaskGet
	OpMaskAtomic
	OpMaskFetchAtomic
)

// ListEntry describes a region of local memory available to match
// incoming requests (spec.md §3 LE/ME). Offset is mutable state
// (advanced on every match) so ListEntry embeds the mutex that guards
// it; callers never mutate Offset directly.
type ListEntry struct {
	mu sync.Mutex

	Handle uint64 // owning LE/ME handle (internal/handle.Handle), opaque here

	MatchBits   uint64
	IgnoreBits  uint64
	ID          IDFilter
	UID         uint32
	Length      int64
	Offset      int64
	MinFree     int64
	Ops         OpMask
	CTHandle    uint64 // 0 if none
	UserCookie  uint64
	ManageLocal bool
	UseOnce     bool

	// RegionCookie names the registered memory (internal/region) this
	// entry's Length/Offset index into, so a matched target transaction
	// knows where to move the Put/Get/Atomic bytes.
	RegionCookie region.Cookie
	// EQHandle is the EQ (internal/handle TagEQ) this entry's events are
	// delivered to, 0 if none (events fall through to the PT's
	// EventQueueHandle instead, per spec.md §6).
	EQHandle uint64

	elem *list.Element // back-pointer into the owning list, for O(1) unlink
}

// Request is the subset of an incoming header match needs.
type Request struct {
	PeerRank   int
	UID        uint32
	Op         OpMask
	MatchBits  uint64
	RLength    int64
	HeaderData uint64
}

// Outcome describes the result of matching one Request against a PT.
type Outcome struct {
	Entry       *ListEntry
	Matched     bool
	Overflow    bool // matched the overflow list instead of the priority list
	Length      int64
	Truncated   bool
	Unlinked    bool // true if this match caused the entry to unlink
	MatchOffset int64
}

// UnexpectedHeader records an overflow-list match for later binding by
// PtlLESearch/PtlMESearch or a subsequent list-append (spec.md §4.F).
type UnexpectedHeader struct {
	PeerRank        int
	MatchBits       uint64
	RLength         int64
	HeaderData      uint64
	OverflowOffset  int64
}

// PT is one portal-table entry: the priority list, the overflow list,
// and the set of unexpected headers captured by overflow matches not
// yet bound by a search.
type PT struct {
	mu sync.Mutex

	priority *list.List
	overflow *list.List

	unexpected []UnexpectedHeader

	EventQueueHandle uint64
	Enabled          bool
	FlowControlled   bool
}

// NewPT creates an enabled, empty portal-table entry.
func NewPT() *PT {
	return &PT{
		priority: list.New(),
		overflow: list.New(),
		Enabled:  true,
	}
}

// Position selects which list Append targets, and whether to prepend.
type Position int

const (
	PriorityList Position = iota
	PriorityListPrepend
	OverflowList
	OverflowListPrepend
)

// Append inserts e into the priority or overflow list at the caller's
// requested position, in O(1).
func (pt *PT) Append(e *ListEntry, pos Position) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	var l *list.List
	prepend := false
	switch pos {
	case PriorityList:
		l = pt.priority
	case PriorityListPrepend:
		l = pt.priority
		prepend = true
	case OverflowList:
		l = pt.overflow
	case OverflowListPrepend:
		l = pt.overflow
		prepend = true
	}

	if prepend {
		e.elem = l.PushFront(e)
	} else {
		e.elem = l.PushBack(e)
	}
}

// Unlink removes e from whichever list holds it. Safe to call even if
// e is not currently linked (elem == nil).
func (pt *PT) Unlink(e *ListEntry) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.unlinkLocked(e)
}

func (pt *PT) unlinkLocked(e *ListEntry) {
	if e.elem == nil {
		return
	}
	// list.Remove is a harmless no-op if elem belongs to the other list,
	// so trying both avoids tracking which list e is currently linked in.
	pt.priority.Remove(e.elem)
	pt.overflow.Remove(e.elem)
	e.elem = nil
}

// matches reports whether e accepts req, per spec.md §4.F's predicate:
// (hdr.match_bits ^ me.match_bits) & ~me.ignore_bits == 0, plus the id,
// op-mask, and UID checks.
func matches(e *ListEntry, req Request) bool {
	if (req.MatchBits^e.MatchBits)&^e.IgnoreBits != 0 {
		return false
	}
	if !e.ID.Accepts(req.PeerRank) {
		return false
	}
	if e.Ops&req.Op == 0 {
		return false
	}
	if e.UID != 0 && e.UID != req.UID {
		return false
	}
	return true
}

// Match walks the priority list first, then the overflow list, using
// strict FIFO order within each, and applies the first matching entry.
// A priority-list match advances the entry's Offset and may unlink it
// (manage_local exhaustion or use_once). An overflow-list match
// additionally records an UnexpectedHeader.
func (pt *PT) Match(req Request) Outcome {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if e := pt.searchLocked(pt.priority, req); e != nil {
		return pt.applyLocked(e, req, false)
	}
	if e := pt.searchLocked(pt.overflow, req); e != nil {
		out := pt.applyLocked(e, req, true)
		pt.unexpected = append(pt.unexpected, UnexpectedHeader{
			PeerRank:       req.PeerRank,
			MatchBits:      req.MatchBits,
			RLength:        req.RLength,
			HeaderData:     req.HeaderData,
			OverflowOffset: out.MatchOffset,
		})
		return out
	}
	return Outcome{}
}

func (pt *PT) searchLocked(l *list.List, req Request) *ListEntry {
	for el := l.Front(); el != nil; el = el.Next() {
		e := el.Value.(*ListEntry)
		e.mu.Lock()
		ok := matches(e, req)
		e.mu.Unlock()
		if ok {
			return e
		}
	}
	return nil
}

// applyLocked advances e.Offset by the matched length and unlinks e if
// its manage_local/use_once rule requires it. pt.mu is held by the
// caller.
func (pt *PT) applyLocked(e *ListEntry, req Request, overflow bool) Outcome {
	e.mu.Lock()

	avail := e.Length - e.Offset
	length := req.RLength
	truncated := false
	if length > avail {
		length = avail
		truncated = true
	}

	matchOffset := e.Offset
	e.Offset += length

	unlink := false
	if e.ManageLocal && e.Length-e.Offset < e.MinFree {
		unlink = true
	}
	if e.UseOnce {
		unlink = true
	}
	e.mu.Unlock()

	if unlink {
		pt.unlinkLocked(e)
	}

	return Outcome{
		Entry:       e,
		Matched:     true,
		Overflow:    overflow,
		Length:      length,
		Truncated:   truncated,
		Unlinked:    unlink,
		MatchOffset: matchOffset,
	}
}

// Search scans the unexpected-header list for overflow matches, for
// PtlLESearch/PtlMESearch (PTL_SEARCH_ONLY semantics): it does not
// mutate the list.
func (pt *PT) Search(req Request) (UnexpectedHeader, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for _, u := range pt.unexpected {
		if u.PeerRank == req.PeerRank && (req.MatchBits^u.MatchBits) == 0 {
			return u, true
		}
	}
	return UnexpectedHeader{}, false
}

// BindNext removes and returns the oldest recorded unexpected header
// (FIFO), for a list-append that binds to it immediately.
func (pt *PT) BindNext() (UnexpectedHeader, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if len(pt.unexpected) == 0 {
		return UnexpectedHeader{}, false
	}
	u := pt.unexpected[0]
	pt.unexpected = pt.unexpected[1:]
	return u, true
}

// PriorityLen and OverflowLen report current list lengths, for tests
// and status reporting.
func (pt *PT) PriorityLen() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.priority.Len()
}

func (pt *PT) OverflowLen() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.overflow.Len()
}

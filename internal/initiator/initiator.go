// Package initiator implements the Portals4 initiator state machine
// (component G) as a pure (state, event) -> (state, []Effect)
// transition function, per spec.md §9's "state machines as data"
// design note. The dispatcher (internal/dispatch) owns the Xi object,
// feeds it events, and executes the returned Effects against the real
// transport/ctevent/connmgr — Transition itself touches none of those,
// which is what makes it unit-testable without a transport.
//
// Grounded on the teacher's queue.Runner TagState/processRequests
// pattern (internal/queue/runner.go): a small per-request enum driven
// forward one step per completion, with a per-request mutex owned by
// the object itself rather than a parallel array.
package initiator

import (
	"sync"

	"github.com/musleh123/portals4/internal/wire"
)

// State is the initiator transaction's position in spec.md §4.G's
// state diagram.
type State int

const (
	Start State = iota
	PrepReq
	WaitConn
	SendReq
	WaitComp
	EarlySendEvent
	SendError
	WaitRecv
	DataIn
	LateSendEvent
	AckEvent
	ReplyEvent
	Cleanup
	Done
)

func (s State) String() string {
	names := [...]string{
		"Start", "PrepReq", "WaitConn", "SendReq", "WaitComp",
		"EarlySendEvent", "SendError", "WaitRecv", "DataIn",
		"LateSendEvent", "AckEvent", "ReplyEvent", "Cleanup", "Done",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// Event is an input driving the state machine forward.
type Event int

const (
	EvBegin Event = iota
	EvConnNotReady
	EvConnReady
	EvSendPosted
	EvSendComplete
	EvSendError
	EvAckRequested  // ACK_REQ/CT_ACK_REQ was set: must WaitRecv
	EvAckNotNeeded  // synthesize local ACK, skip WaitRecv
	EvReplyRecv
	EvDataInDone
)

// EffectKind enumerates the side effects a Transition can request; the
// dispatcher interprets and executes each one.
type EffectKind int

const (
	EffectComposeHeader EffectKind = iota
	EffectParkOnConn
	EffectStartConnect
	EffectPostSend
	EffectEmitUndeliverable
	EffectSynthesizeLocalAck
	EffectStreamDataIn
	EffectEmitEvent
	EffectBumpCT
	EffectTeardown
)

// Effect is one action the dispatcher must perform as a result of a
// transition. Success is only meaningful for EffectBumpCT.
type Effect struct {
	Kind    EffectKind
	Success bool
}

// Request carries everything the effect executor needs to compose and
// post a real wire message on EffectComposeHeader/EffectPostSend — the
// out-of-scope public API (PtlPut/PtlGet/PtlAtomic/...) builds one of
// these and hands it to New. Transition itself never reads Request; it
// is pure data the executor consults once a transition returns
// EffectComposeHeader/EffectPostSend.
type Request struct {
	PeerID     uint64
	PTIndex    uint32
	MatchBits  uint64
	HeaderData uint64
	Op         uint8 // wire.OpPut/OpGet/OpAtomic/OpFetch/OpSwap
	AckReq     wire.AckMode
	RLength    uint64
	ROffset    uint64
	AtomOp     uint8
	AtomType   uint8
	Operand    uint64
	Payload    []byte // inline payload for OP_PUT/OP_ATOMIC/OP_SWAP/OP_FETCH operand side
	CTHandle   uint64 // local CT this transaction bumps on completion, 0 if none
	EQHandle   uint64 // local EQ SEND/ACK/REPLY events are delivered to, 0 if none
}

// Xi is one in-flight initiator transaction (spec.md §3). Transition
// mutates State under Xi's own mutex; callers (the dispatcher) drive
// one event at a time per Xi, serialized the way the teacher serializes
// one tag's completions under its per-tag mutex.
type Xi struct {
	mu    sync.Mutex
	State State

	Request Request

	ConnHandle   uint64
	AckRequested bool
}

// New creates a fresh initiator transaction in Start state, carrying
// req for the effect executor to compose and post.
func New(req Request) *Xi {
	return &Xi{State: Start, Request: req, AckRequested: req.AckReq != wire.AckNone}
}

// Step applies ev to xi and returns the Effects the dispatcher must
// execute. It holds xi's own mutex for the duration, so two completions
// for the same Xi can never race each other's transition.
func (xi *Xi) Step(ev Event) []Effect {
	xi.mu.Lock()
	defer xi.mu.Unlock()

	next, effects := Transition(xi.State, ev, xi.AckRequested)
	xi.State = next
	return effects
}

// CurrentState reports xi's state under its own mutex, for the effect
// executor's auto-advance driver.
func (xi *Xi) CurrentState() State {
	xi.mu.Lock()
	defer xi.mu.Unlock()
	return xi.State
}

// Transition is the pure core: given the current state, the event, and
// whether ACK was requested for this transaction, returns the next
// state and the effects to execute. It has no side effects of its own,
// which is what makes it exhaustively unit-testable.
func Transition(s State, ev Event, ackRequested bool) (State, []Effect) {
	switch s {
	case Start:
		if ev == EvBegin {
			return PrepReq, []Effect{{Kind: EffectComposeHeader}}
		}

	case PrepReq:
		switch ev {
		case EvConnNotReady:
			return WaitConn, []Effect{{Kind: EffectParkOnConn}, {Kind: EffectStartConnect}}
		case EvConnReady:
			return SendReq, []Effect{{Kind: EffectPostSend}}
		}

	case WaitConn:
		if ev == EvConnReady {
			return SendReq, []Effect{{Kind: EffectPostSend}}
		}

	case SendReq:
		if ev == EvSendPosted {
			return WaitComp, nil
		}

	case WaitComp:
		switch ev {
		case EvSendComplete:
			if ackRequested {
				return WaitRecv, nil
			}
			return LateSendEvent, []Effect{{Kind: EffectSynthesizeLocalAck}}
		case EvSendError:
			return SendError, []Effect{
				{Kind: EffectEmitUndeliverable},
				{Kind: EffectTeardown},
			}
		}

	case EarlySendEvent:
		// Reserved for the early-send-event path (spec.md names it in
		// the state list but it folds into WaitComp->LateSendEvent
		// here since this engine always waits for the real completion
		// before emitting SEND).

	case SendError:
		// Terminal; the Teardown effect was already issued on entry.

	case WaitRecv:
		if ev == EvReplyRecv {
			return DataIn, []Effect{{Kind: EffectStreamDataIn}}
		}

	case DataIn:
		if ev == EvDataInDone {
			return LateSendEvent, nil
		}

	case LateSendEvent:
		return AckEvent, []Effect{{Kind: EffectEmitEvent}}

	case AckEvent:
		return ReplyEvent, []Effect{
			{Kind: EffectEmitEvent},
			{Kind: EffectBumpCT, Success: true},
		}

	case ReplyEvent:
		return Cleanup, []Effect{{Kind: EffectTeardown}}

	case Cleanup:
		return Done, nil

	case Done:
		// no-op: terminal state
	}

	return s, nil
}

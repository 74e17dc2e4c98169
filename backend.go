// Package portals4 is the message engine's root façade: NewNI stands
// up one Network Interface — its object pools, portal table, connection
// manager, and progress thread — wired exactly as spec.md §3 describes.
// Building and validating a request is the out-of-scope public API's
// job (spec.md §1); NI.Submit is the narrow entry point that API would
// call to hand a built Initiator transaction to the engine.
package portals4

import (
	"context"
	"fmt"
	"sync"

	"github.com/musleh123/portals4/internal/connmgr"
	"github.com/musleh123/portals4/internal/ctevent"
	"github.com/musleh123/portals4/internal/dispatch"
	"github.com/musleh123/portals4/internal/eq"
	"github.com/musleh123/portals4/internal/initiator"
	"github.com/musleh123/portals4/internal/logging"
	"github.com/musleh123/portals4/internal/match"
	"github.com/musleh123/portals4/internal/region"
	"github.com/musleh123/portals4/internal/target"
	"github.com/musleh123/portals4/internal/transport"
	"github.com/musleh123/portals4/internal/wire"
)

// DefaultEQCapacity is the ring size a bare PtlEQAlloc(count) call with
// no explicit sizing hint falls back to.
const DefaultEQCapacity = 64

// NIState mirrors the teacher's DeviceState lifecycle enum, renamed to
// the engine's own states.
type NIState string

const (
	NIStateCreated NIState = "created"
	NIStateRunning NIState = "running"
	NIStateStopped NIState = "stopped"
)

// Config carries everything NewNI needs to stand up one NI. Transport
// is required; the caller picks the RDMA or shared-memory backend per
// SPEC_FULL.md's domain-stack wiring.
type Config struct {
	Type        wire.NIType
	Rank        int
	Transport   transport.Transport
	Logger      logging.Logger
	Observer    Observer
	CPUAffinity []int
}

// NI is one Network Interface: owns a portal table, a connection
// manager, a progress thread, and the live initiator/target
// transactions in flight on it (spec.md §3 "Network Interface (NI)").
type NI struct {
	mu sync.RWMutex

	index     uint16
	typ       wire.NIType
	rank      int
	conns     *connmgr.Controller
	disp      *dispatch.Dispatcher
	logger    logging.Logger
	transport transport.Transport

	metrics  *Metrics
	observer Observer

	pts map[uint32]*match.PT
	xis map[uint64]*initiator.Xi
	xts map[uint64]*target.Xt
	cts map[uint64]*ctevent.CT
	eqs map[uint64]*eq.EQ

	// xtCtx/xiCtx carry the effect executor's per-transaction context
	// (matched entry, region cookie, composed bytes) alongside xts/xis,
	// keyed by the same handle. Kept separate from *target.Xt/*initiator.Xi
	// themselves so those packages' Transition functions stay pure data
	// transforms with no transport/region/connmgr dependency.
	xtCtx map[uint64]*targetCtx
	xiCtx map[uint64]*initiatorCtx

	// xtPendingSend records which target Event a just-posted ack/reply
	// send should feed once its completion arrives, since onSendComp is
	// shared between the initiator and target paths.
	xtPendingSend map[uint64]target.Event

	nextHandle uint64 // monotonic local id generator for xi/xt/ct/eq maps

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewNI constructs an NI and starts its progress thread. Mirrors the
// teacher's CreateAndServe: build the dependency graph, launch the
// per-queue (here: per-NI) runner, and hand back a live handle.
func NewNI(ctx context.Context, index uint16, cfg Config) (*NI, error) {
	if cfg.Transport == nil {
		return nil, NewNIError("NewNI", int(index), ErrCodeInvalidArgument, "Config.Transport is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logging.WithNI(logger, index)

	observer := cfg.Observer
	if observer == nil {
		observer = &NoOpObserver{}
	}

	ni := &NI{
		index:         index,
		typ:           cfg.Type,
		rank:          cfg.Rank,
		conns:         connmgr.NewController(connmgr.PeerID{Rank: cfg.Rank}),
		logger:        logger,
		transport:     cfg.Transport,
		metrics:       NewMetrics(),
		observer:      observer,
		pts:           make(map[uint32]*match.PT),
		xis:           make(map[uint64]*initiator.Xi),
		xts:           make(map[uint64]*target.Xt),
		cts:           make(map[uint64]*ctevent.CT),
		eqs:           make(map[uint64]*eq.EQ),
		xtCtx:         make(map[uint64]*targetCtx),
		xiCtx:         make(map[uint64]*initiatorCtx),
		xtPendingSend: make(map[uint64]target.Event),
	}

	ni.ctx, ni.cancel = context.WithCancel(ctx)

	ni.disp = dispatch.New(ni.ctx, dispatch.Config{
		NI:           index,
		Transport:    cfg.Transport,
		Conns:        ni.conns,
		Logger:       logger,
		CPUAffinity:  cfg.CPUAffinity,
		RepostLow:    DefaultSRQRepostSize / 4,
		OnRequest:    ni.onRequest,
		OnReply:      ni.onReply,
		OnSendComp:   ni.onSendComp,
		OnRdmaComp:   ni.onRdmaComp,
		OnDisconnect: ni.onDisconnect,
	})

	go func() {
		if err := ni.disp.Run(); err != nil {
			logger.Error("progress thread exited", "err", err)
		}
	}()

	ni.started = true
	logger.Info("NI initialized")
	return ni, nil
}

// onRequest is the dispatcher's RSReq callback: an incoming request
// begins a new target transaction and is matched against its portal
// table's priority/overflow lists (spec.md §4.F, §4.I "invoke H").
func (ni *NI) onRequest(peerID uint64, hdr wire.HdrCommon, payload []byte) {
	op := requestOpFromWire(hdr.Operation)
	xt := target.New(op)

	ni.mu.Lock()
	h := ni.nextHandleLocked()
	ni.xts[h] = xt
	tc := &targetCtx{xt: xt, handle: h, peerID: peerID, op: hdr.Operation}
	ni.xtCtx[h] = tc
	ni.mu.Unlock()

	ni.metrics.RecordRecv()

	if len(payload) < wire.ReqHdrSize {
		ni.logger.Warn("short request tail, dropping", "peer", peerID, "len", len(payload))
		ni.observer.ObserveRecvDrop(ni.index)
		ni.metrics.RecordRecvDrop()
		ni.driveTarget(tc, target.EvBegin)
		ni.driveTarget(tc, target.EvNoMatch)
		return
	}
	reqHdr, err := wire.DecodeReqHdr(payload[:wire.ReqHdrSize])
	if err != nil {
		ni.logger.Warn("malformed request tail, dropping", "peer", peerID, "err", err)
		ni.observer.ObserveRecvDrop(ni.index)
		ni.metrics.RecordRecvDrop()
		ni.driveTarget(tc, target.EvBegin)
		ni.driveTarget(tc, target.EvNoMatch)
		return
	}
	tc.req = reqHdr
	tc.payload = payload[wire.ReqHdrSize:]

	ni.driveTarget(tc, target.EvBegin)

	ni.mu.RLock()
	pt, ok := ni.pts[reqHdr.PTIndex]
	ni.mu.RUnlock()
	if !ok {
		ni.logger.Warn("request for unallocated pt_index, dropping", "pt_index", reqHdr.PTIndex, "peer", peerID)
		ni.observer.ObserveRecvDrop(ni.index)
		ni.metrics.RecordRecvDrop()
		ni.driveTarget(tc, target.EvNoMatch)
		return
	}

	outcome := pt.Match(match.Request{
		PeerRank:   int(peerID),
		Op:         opMaskFromWire(hdr.Operation),
		MatchBits:  reqHdr.MatchBits,
		RLength:    int64(reqHdr.RLength),
		HeaderData: reqHdr.HdrData,
	})
	if !outcome.Matched {
		ni.logger.Debug("no matching list entry", "pt_index", reqHdr.PTIndex, "peer", peerID)
		ni.observer.ObserveRecvDrop(ni.index)
		ni.metrics.RecordRecvDrop()
		ni.driveTarget(tc, target.EvNoMatch)
		return
	}

	if outcome.Truncated {
		ni.logger.Warn("request truncated to fit matched entry", "pt_index", reqHdr.PTIndex, "peer", peerID, "matched_length", outcome.Length, "requested_length", reqHdr.RLength)
	}

	tc.entry = outcome.Entry
	tc.length = outcome.Length
	tc.matchOffset = outcome.MatchOffset
	tc.truncated = outcome.Truncated
	tc.overflow = outcome.Overflow
	tc.eqHandle = outcome.Entry.EQHandle
	if tc.eqHandle == 0 {
		tc.eqHandle = pt.EventQueueHandle
	}
	if outcome.Entry.CTHandle != 0 {
		if ct, ok := ni.CT(outcome.Entry.CTHandle); ok {
			tc.ct = ct
		}
	}

	if outcome.Overflow {
		ni.driveTarget(tc, target.EvOverflowMatched)
		return
	}
	ni.driveTarget(tc, target.EvMatched)
}

// opMaskFromWire maps a wire operation byte to the OpMask match.Match
// checks a ListEntry's Ops bitmask against (spec.md §4.F).
func opMaskFromWire(op uint8) match.OpMask {
	switch op {
	case wire.OpGet:
		return match.OpMaskGet
	case wire.OpAtomic:
		return match.OpMaskAtomic
	case wire.OpFetch, wire.OpSwap:
		return match.OpMaskFetchAtomic
	default:
		return match.OpMaskPut
	}
}

// onReply is the dispatcher's RSInit callback: a reply/ack/ct_ack
// resumes the initiator transaction named by userData (the echoed xi
// handle, spec.md §6 req_hdr.handle).
func (ni *NI) onReply(userData uint64, hdr wire.HdrCommon, payload []byte) {
	ni.mu.RLock()
	ic, ok := ni.xiCtx[userData]
	ni.mu.RUnlock()
	if !ok {
		ni.logger.Warn("reply for unknown initiator transaction", "handle", userData)
		ni.observer.ObserveRecvErr(ni.index)
		return
	}
	if len(payload) >= wire.ReplyHdrSize {
		reply, err := wire.DecodeReplyHdr(payload[:wire.ReplyHdrSize])
		if err == nil {
			ic.replyNIFail = reply.NIFail
			ic.replyData = append([]byte(nil), payload[wire.ReplyHdrSize:]...)
		}
	}
	ni.driveInitiator(ic, initiator.EvReplyRecv)
}

func (ni *NI) onSendComp(userData uint64, failed bool) {
	ni.mu.RLock()
	ic, isInit := ni.xiCtx[userData]
	sendEv, isTarget := ni.xtPendingSend[userData]
	var tc *targetCtx
	if isTarget {
		tc = ni.xtCtx[userData]
	}
	ni.mu.RUnlock()

	if isInit {
		if failed {
			ni.driveInitiator(ic, initiator.EvSendError)
			ni.metrics.RecordCTBump(false)
			return
		}
		ni.driveInitiator(ic, initiator.EvSendComplete)
		return
	}
	if isTarget && tc != nil {
		ni.mu.Lock()
		delete(ni.xtPendingSend, userData)
		ni.mu.Unlock()
		if failed {
			ni.logger.Warn("target ack/reply send failed", "peer", tc.peerID, "handle", userData)
			return
		}
		ni.driveTarget(tc, sendEv)
	}
}

func (ni *NI) onRdmaComp(userData uint64) {
	ni.mu.RLock()
	tc, ok := ni.xtCtx[userData]
	ni.mu.RUnlock()
	if !ok {
		return
	}
	tc.xt.DecRdmaComp()
	ni.driveTarget(tc, target.EvDataMoveDone)
}

// onDisconnect is the dispatcher's RSDisconnect callback: the peer
// named by peerID sent OP_RDMA_DISC, so this NI runs the remote half of
// spec.md §4.E's graceful-disconnect handshake and tears the connection
// down once both halves are done.
func (ni *NI) onDisconnect(peerID uint64) {
	conn := ni.conns.Resolve(connmgr.PeerID{Rank: int(peerID)})
	if ni.conns.RemoteDisconnect(conn) {
		ni.conns.Teardown(conn)
	}
}

func requestOpFromWire(op uint8) target.Op {
	switch op {
	case wire.OpGet:
		return target.OpGet
	case wire.OpAtomic:
		return target.OpAtomic
	case wire.OpFetch:
		return target.OpFetchAtomic
	case wire.OpSwap:
		return target.OpSwap
	default:
		return target.OpPut
	}
}

func (ni *NI) nextHandleLocked() uint64 {
	ni.nextHandle++
	return ni.nextHandle
}

// PTAlloc allocates a portal-table entry at ptIndex (spec.md §4.F).
// Returns ErrCodePTInUse if ptIndex is already allocated.
func (ni *NI) PTAlloc(ptIndex uint32) (*match.PT, error) {
	ni.mu.Lock()
	defer ni.mu.Unlock()
	if _, exists := ni.pts[ptIndex]; exists {
		return nil, NewNIError("PTAlloc", int(ni.index), ErrCodePTInUse, fmt.Sprintf("pt_index %d already allocated", ptIndex))
	}
	pt := match.NewPT()
	ni.pts[ptIndex] = pt
	return pt, nil
}

// PTFree releases a portal-table entry. It is not an error to free an
// index that was never allocated.
func (ni *NI) PTFree(ptIndex uint32) {
	ni.mu.Lock()
	defer ni.mu.Unlock()
	delete(ni.pts, ptIndex)
}

// PT returns the portal-table entry at ptIndex, or ok=false if unallocated.
func (ni *NI) PT(ptIndex uint32) (*match.PT, bool) {
	ni.mu.RLock()
	defer ni.mu.RUnlock()
	pt, ok := ni.pts[ptIndex]
	return pt, ok
}

// CTAlloc allocates a new counting event and returns its local handle.
func (ni *NI) CTAlloc() (uint64, *ctevent.CT) {
	ct := ctevent.New()
	ni.mu.Lock()
	h := ni.nextHandleLocked()
	ni.cts[h] = ct
	ni.mu.Unlock()
	return h, ct
}

// CT resolves a previously allocated counting event by handle.
func (ni *NI) CT(h uint64) (*ctevent.CT, bool) {
	ni.mu.RLock()
	defer ni.mu.RUnlock()
	ct, ok := ni.cts[h]
	return ct, ok
}

// CTFree cancels and releases a counting event.
func (ni *NI) CTFree(h uint64) {
	ni.mu.Lock()
	ct, ok := ni.cts[h]
	delete(ni.cts, h)
	ni.mu.Unlock()
	if ok {
		ct.Cancel()
	}
}

// Submit hands a freshly built initiator transaction to the engine,
// starting it from Start and returning its local handle so the caller
// (the out-of-scope public API) can correlate later events against it.
// The transaction runs to completion (posting its wire message, waiting
// for the ack/reply, bumping its CT, delivering its events) through the
// real effect executor in effects.go, not by a caller-side fake.
func (ni *NI) Submit(xi *initiator.Xi) uint64 {
	ni.mu.Lock()
	h := ni.nextHandleLocked()
	ni.xis[h] = xi
	var ct *ctevent.CT
	if xi.Request.CTHandle != 0 {
		ct = ni.cts[xi.Request.CTHandle]
	}
	ic := &initiatorCtx{xi: xi, handle: h, ct: ct}
	ni.xiCtx[h] = ic
	ni.mu.Unlock()

	ni.driveInitiator(ic, initiator.EvBegin)
	return h
}

// EQAlloc allocates a new event queue of the given capacity and returns
// its local handle (spec.md §3 "Event queue (EQ)").
func (ni *NI) EQAlloc(capacity int) (uint64, *eq.EQ) {
	q := eq.New(capacity)
	ni.mu.Lock()
	h := ni.nextHandleLocked()
	ni.eqs[h] = q
	ni.mu.Unlock()
	return h, q
}

// EQ resolves a previously allocated event queue by handle.
func (ni *NI) EQ(h uint64) (*eq.EQ, bool) {
	ni.mu.RLock()
	defer ni.mu.RUnlock()
	q, ok := ni.eqs[h]
	return q, ok
}

// EQFree releases a previously allocated event queue.
func (ni *NI) EQFree(h uint64) {
	ni.mu.Lock()
	defer ni.mu.Unlock()
	delete(ni.eqs, h)
}

// Rank returns the local rank this NI was configured with.
func (ni *NI) Rank() int { return ni.rank }

// Index returns the NI index used for handle packing and logging scope.
func (ni *NI) Index() uint16 { return ni.index }

// State reports the NI's lifecycle state.
func (ni *NI) State() NIState {
	if ni == nil || ni.ctx == nil {
		return NIStateCreated
	}
	select {
	case <-ni.ctx.Done():
		return NIStateStopped
	default:
	}
	if !ni.started {
		return NIStateCreated
	}
	return NIStateRunning
}

// Metrics returns the NI's atomic counters.
func (ni *NI) Metrics() *Metrics { return ni.metrics }

// ConnCount returns the number of connections currently tracked,
// regardless of state.
func (ni *NI) ConnCount() int { return ni.conns.Len() }

// Close stops the progress thread, cancels and untracks every CT,
// untracks every EQ and stops the metrics clock, mirroring the
// teacher's StopAndDelete. Tracked connections are left as they are;
// Close does not run the graceful-disconnect handshake.
func (ni *NI) Close() error {
	ni.mu.Lock()
	defer ni.mu.Unlock()
	if !ni.started {
		return nil
	}
	ni.disp.Stop()
	ni.cancel()
	for h, ct := range ni.cts {
		ct.Cancel()
		delete(ni.cts, h)
	}
	for h := range ni.eqs {
		delete(ni.eqs, h)
	}
	ni.metrics.Stop()
	ni.started = false
	ni.logger.Info("NI closed")
	return nil
}

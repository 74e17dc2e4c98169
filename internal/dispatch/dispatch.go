// Package dispatch implements the receive/completion dispatcher
// (component I, SPEC_FULL.md §4.I): a single progress thread per NI
// that polls a transport's completion source, classifies each
// completion, and routes it into the target state machine, the
// initiator's reply path, or the connection manager's disconnect half.
//
// Grounded on internal/queue/runner.go's ioLoop/processRequests split:
// ioLoop pins the OS thread and owns the for-loop, processRequests
// drains one batch of completions and hands each to a classification
// step. Classify here replaces handleCompletion's per-tag state
// machine switch with the wc.status/buf.type table from spec.md §4.I,
// since dispatch no longer owns a fixed array of tags — the initiator
// and target packages own their own per-transaction state.
package dispatch

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/musleh123/portals4/internal/connmgr"
	"github.com/musleh123/portals4/internal/logging"
	"github.com/musleh123/portals4/internal/transport"
	"github.com/musleh123/portals4/internal/wire"
)

// RecvState is the classification assigned to one completion, per
// spec.md §4.I's wc.status/buf.type table.
type RecvState int

const (
	RSSendComp RecvState = iota
	RSRdmaComp
	RSPacketRDMA
	RSReq
	RSInit
	RSDisconnect
	RSDropBuf
	RSError
)

func (s RecvState) String() string {
	names := [...]string{
		"SendComp", "RdmaComp", "PacketRDMA", "Req", "Init",
		"Disconnect", "DropBuf", "Error",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// Classify implements spec.md §4.I's completion classification table.
// It is pure and operates only on the Completion's Kind/Err fields, so
// it is exhaustively unit-testable without a live transport.
func Classify(c transport.Completion) RecvState {
	switch c.Kind {
	case transport.CompletionSend:
		return RSSendComp // caller checks c.Err for NI_UNDELIVERABLE
	case transport.CompletionRDMARead, transport.CompletionRDMAWrite:
		if c.Err != nil {
			return RSError
		}
		return RSRdmaComp
	case transport.CompletionRecv:
		if c.Err != nil {
			return RSDropBuf
		}
		return RSPacketRDMA
	default:
		return RSDropBuf
	}
}

// ClassifyPacket inspects a decoded header's operation to route a
// RSPacketRDMA completion onward: "operation <= OP_SWAP => Req",
// "operation >= OP_REPLY => Init", OP_RDMA_DISC runs the disconnect
// half of §4.E.
func ClassifyPacket(op uint8) RecvState {
	switch {
	case op == wire.OpRDMADisc:
		return RSDisconnect
	case wire.OpIsRequest(op):
		return RSReq
	case wire.OpIsReply(op):
		return RSInit
	default:
		return RSDropBuf
	}
}

// RequestHandler is invoked for a completion classified RSReq: a new or
// continuing target transaction. hdr and payload are only valid for the
// duration of the call — see DESIGN.md's copy-before-reentry resolution
// of the recv_init/init_buf re-entrancy Open Question.
type RequestHandler func(peerID uint64, hdr wire.HdrCommon, payload []byte)

// ReplyHandler is invoked for a completion classified RSInit: a reply,
// ack, or ct_ack addressed to one of this NI's outstanding initiator
// transactions, keyed by the completion's UserData (the xi handle).
type ReplyHandler func(userData uint64, hdr wire.HdrCommon, payload []byte)

// SendCompHandler is invoked for a completion classified RSSendComp.
// failed reports whether the send itself errored (NI_UNDELIVERABLE).
type SendCompHandler func(userData uint64, failed bool)

// RdmaCompHandler is invoked for a completion classified RSRdmaComp,
// keyed by the target transaction's handle.
type RdmaCompHandler func(userData uint64)

// DisconnectHandler is invoked for a completion classified RSDisconnect:
// the peer named by peerID sent OP_RDMA_DISC. The handler runs the
// remote half of spec.md §4.E's graceful-disconnect handshake
// (Controller.RemoteDisconnect) and tears the connection down once both
// halves have completed.
type DisconnectHandler func(peerID uint64)

// Config carries the dependencies and callbacks a Dispatcher routes
// into. Handlers may be nil, in which case the corresponding
// classification is a no-op (useful in tests that only exercise a
// subset of paths).
type Config struct {
	NI          uint16
	Transport   transport.Transport
	Conns       *connmgr.Controller
	Logger      logging.Logger
	CPUAffinity []int // round-robin per teacher's unix.CPUSet convention
	BatchSize   int
	RepostLow   int // free-buffer watermark that triggers a Repost

	OnRequest    RequestHandler
	OnReply      ReplyHandler
	OnSendComp   SendCompHandler
	OnRdmaComp   RdmaCompHandler
	OnDisconnect DisconnectHandler
	// Repost is called when the dispatcher observes the transport's free
	// buffer count has dropped to RepostLow or below; it should refill
	// the SRQ/recv ring in one batched call.
	Repost func(n int)
}

// Dispatcher owns one NI's progress thread.
type Dispatcher struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	logger logging.Logger
}

func New(ctx context.Context, cfg Config) *Dispatcher {
	ctx, cancel := context.WithCancel(ctx)
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Dispatcher{cfg: cfg, ctx: ctx, cancel: cancel, logger: logger}
}

// Stop signals the progress thread to exit after its current batch.
func (d *Dispatcher) Stop() { d.cancel() }

// Run pins the calling goroutine to its OS thread and polls until Stop
// is called or the transport returns a fatal error. Intended to be
// launched with `go d.Run()`: exactly one goroutine must call Run for a
// given Dispatcher, mirroring the teacher's one-thread-per-queue rule.
func (d *Dispatcher) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(d.cfg.CPUAffinity) > 0 {
		cpuIdx := d.cfg.CPUAffinity[int(d.cfg.NI)%len(d.cfg.CPUAffinity)]
		var mask unix.CPUSet
		mask.Set(cpuIdx)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			d.logger.Warn("failed to set CPU affinity", "ni", d.cfg.NI, "cpu", cpuIdx, "err", err)
		}
	}

	d.logger.Debug("progress thread starting", "ni", d.cfg.NI)

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Debug("progress thread stopping", "ni", d.cfg.NI)
			return nil
		default:
		}

		completions, err := d.cfg.Transport.PollCompletions(d.cfg.BatchSize, 0)
		if err != nil {
			return fmt.Errorf("ni %d: poll completions: %w", d.cfg.NI, err)
		}
		for _, c := range completions {
			d.handle(c)
		}
	}
}

// handle classifies and routes a single completion. Kept separate from
// Run so tests can drive it directly without a live transport.
func (d *Dispatcher) handle(c transport.Completion) {
	switch Classify(c) {
	case RSSendComp:
		if d.cfg.OnSendComp != nil {
			d.cfg.OnSendComp(c.UserData, c.Err != nil)
		}

	case RSRdmaComp:
		if d.cfg.OnRdmaComp != nil {
			d.cfg.OnRdmaComp(c.UserData)
		}

	case RSPacketRDMA:
		d.handlePacket(c)

	case RSError:
		d.logger.Warn("rdma completion error", "ni", d.cfg.NI, "err", c.Err)

	case RSDropBuf:
		d.logger.Debug("dropping malformed/unexpected completion", "ni", d.cfg.NI)
	}
}

// handlePacket decodes just enough of the header to route the
// completion, copying the header out of c.Data before dispatch per the
// copy-before-reentry resolution in DESIGN.md (c.Data may be a borrowed
// buffer the transport recycles as soon as this call returns).
func (d *Dispatcher) handlePacket(c transport.Completion) {
	if len(c.Data) < wire.HdrCommonSize {
		d.logger.Warn("short packet, dropping", "ni", d.cfg.NI, "len", len(c.Data))
		return
	}
	hdr, err := wire.DecodeHdrCommon(c.Data[:wire.HdrCommonSize])
	if err != nil {
		d.logger.Warn("header decode failed, dropping", "ni", d.cfg.NI, "err", err)
		return
	}
	payload := append([]byte(nil), c.Data[wire.HdrCommonSize:]...)

	switch ClassifyPacket(hdr.Operation) {
	case RSReq:
		if d.cfg.OnRequest != nil {
			d.cfg.OnRequest(c.PeerID, hdr, payload)
		}
	case RSInit:
		if d.cfg.OnReply != nil {
			d.cfg.OnReply(c.UserData, hdr, payload)
		}
	case RSDisconnect:
		d.logger.Debug("peer disconnect notice", "ni", d.cfg.NI, "peer", c.PeerID)
		if d.cfg.OnDisconnect != nil {
			// The local half of the handshake (LocalDisconnect/
			// LocalDisconnectComplete) is driven separately when this NI
			// initiates teardown; this only runs the remote half.
			d.cfg.OnDisconnect(c.PeerID)
		}
	default:
		d.logger.Debug("packet with unrecognized operation, dropping", "ni", d.cfg.NI, "op", hdr.Operation)
	}
}

// MaybeRepost calls cfg.Repost when free has dropped to the configured
// watermark, batching SRQ/recv-ring refills the way the teacher batches
// COMMIT_AND_FETCH_REQ submissions into one FlushSubmissions call.
func (d *Dispatcher) MaybeRepost(free int) {
	if d.cfg.Repost != nil && free <= d.cfg.RepostLow {
		d.cfg.Repost(d.cfg.RepostLow - free + 1)
	}
}

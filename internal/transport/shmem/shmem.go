// Package shmem implements transport.Transport over internal/shmq's
// lock-free MPSC fragment queue and internal/region's registered-memory
// façade: the single-node backend spec.md §3 describes as "shared
// memory segment ... per-rank MPSC fragment queue", used when every
// rank in a job lands on the same node (loopback/test topologies, or a
// node-local fast path alongside RDMA for cross-node peers).
//
// Grounded on the teacher's backend.Memory: a Hub plays the role of the
// shared RAM disk, one Transport per rank plays the role of one device
// queue pulling from its own slice of that shared resource, and
// PostTargetDMA's "RDMA" is a same-process region.ReadAt/WriteAt memcpy
// rather than a real network operation, the same way backend.Memory's
// ReadAt/WriteAt stand in for a real block device.
package shmem

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/musleh123/portals4/internal/region"
	"github.com/musleh123/portals4/internal/shmq"
	"github.com/musleh123/portals4/internal/transport"
)

// frameHeaderSize is the fixed senderID+userData prefix shmem prepends
// to every enqueued frame, ahead of the caller's wire-encoded header.
const frameHeaderSize = 16

// Hub is the shared-memory segment's rendezvous point: every rank's
// Transport registers its inbox queue here so a peer's SendMessage can
// find it by PeerID. One Hub serves one node's worth of co-resident
// ranks.
type Hub struct {
	mu    sync.Mutex
	peers map[uint64]*shmq.Queue
}

// NewHub creates an empty segment rendezvous.
func NewHub() *Hub {
	return &Hub{peers: make(map[uint64]*shmq.Queue)}
}

// Register creates peerID's inbox queue (capacity fragments deep) and
// returns a Transport bound to it. Two ranks that want to exchange
// messages must register with the same Hub.
func (h *Hub) Register(peerID uint64, capacity int) *Transport {
	q := shmq.New(capacity)
	h.mu.Lock()
	h.peers[peerID] = q
	h.mu.Unlock()
	return &Transport{self: peerID, hub: h, inbox: q}
}

func (h *Hub) lookup(peerID uint64) (*shmq.Queue, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.peers[peerID]
	return q, ok
}

// Transport is one rank's view of the shared-memory segment: an inbox
// queue other ranks enqueue into, plus a small buffer of locally
// generated send/DMA completions PollCompletions drains alongside
// incoming packets.
type Transport struct {
	self  uint64
	hub   *Hub
	inbox *shmq.Queue

	mu        sync.Mutex
	local     []transport.Completion
	threshold int
}

// SendMessage enqueues msg onto msg.PeerID's inbox and immediately
// records a local send completion — shmem delivery to a co-resident
// rank's queue is synchronous, so there is no separate "in flight"
// state to poll for.
func (t *Transport) SendMessage(msg transport.Message) error {
	q, ok := t.hub.lookup(msg.PeerID)
	if !ok {
		return fmt.Errorf("shmem: peer %d not registered on this hub", msg.PeerID)
	}

	frame := make([]byte, frameHeaderSize+len(msg.Header)+len(msg.Payload))
	binary.BigEndian.PutUint64(frame[0:8], t.self)
	binary.BigEndian.PutUint64(frame[8:16], msg.UserData)
	copy(frame[frameHeaderSize:], msg.Header)
	copy(frame[frameHeaderSize+len(msg.Header):], msg.Payload)

	if err := q.Enqueue(frame); err != nil {
		return fmt.Errorf("shmem: enqueue to peer %d: %w", msg.PeerID, err)
	}

	t.pushLocal(transport.Completion{Kind: transport.CompletionSend, UserData: msg.UserData, PeerID: msg.PeerID})
	return nil
}

// PostTargetDMA moves bytes directly between desc.Local and the region
// named by desc.Addr (used here as the registered-region cookie rather
// than a virtual address — shmem has no separate rkey namespace) at
// offset desc.RKey, since everyone sharing the segment can already see
// everyone else's registered regions.
func (t *Transport) PostTargetDMA(peerID uint64, desc transport.DMADescriptor, write bool, userData uint64) error {
	r, ok := region.Resolve(desc.Addr)
	if !ok {
		return fmt.Errorf("shmem: unknown region cookie %d", desc.Addr)
	}

	var err error
	kind := transport.CompletionRDMARead
	if write {
		kind = transport.CompletionRDMAWrite
		err = r.WriteAt(desc.Local, int64(desc.RKey))
	} else {
		err = r.ReadAt(desc.Local, int64(desc.RKey), int64(desc.Length))
	}

	t.pushLocal(transport.Completion{Kind: kind, UserData: userData, PeerID: peerID, Err: err})
	return err
}

// SetSendCompletionThreshold records n, but shmem still generates one
// send completion per SendMessage regardless of it.
func (t *Transport) SetSendCompletionThreshold(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threshold = n
}

// PollCompletions first drains locally generated send/DMA completions,
// then decodes up to the remaining budget of inbox frames into
// CompletionRecv entries.
func (t *Transport) PollCompletions(max int, timeoutMicros int) ([]transport.Completion, error) {
	t.mu.Lock()
	var out []transport.Completion
	if max <= 0 || len(t.local) <= max {
		out = t.local
		t.local = nil
	} else {
		out = append(out, t.local[:max]...)
		t.local = t.local[max:]
	}
	t.mu.Unlock()

	budget := max - len(out)
	if max <= 0 {
		budget = -1
	}
	for budget != 0 {
		frame, err := t.inbox.Dequeue()
		if err == shmq.ErrEmpty {
			break
		}
		if err != nil {
			return out, fmt.Errorf("shmem: dequeue: %w", err)
		}
		if len(frame) < frameHeaderSize {
			continue // malformed fragment, drop
		}
		senderID := binary.BigEndian.Uint64(frame[0:8])
		userData := binary.BigEndian.Uint64(frame[8:16])
		out = append(out, transport.Completion{
			Kind:     transport.CompletionRecv,
			UserData: userData,
			PeerID:   senderID,
			Data:     frame[frameHeaderSize:],
		})
		if budget > 0 {
			budget--
		}
	}
	return out, nil
}

func (t *Transport) pushLocal(c transport.Completion) {
	t.mu.Lock()
	t.local = append(t.local, c)
	t.mu.Unlock()
}

// NewBatch returns a Batch that submits every queued send in order when
// Submit is called; shmem has no hardware submission queue to coalesce
// into, so batching here only amortizes the caller's own bookkeeping.
func (t *Transport) NewBatch() transport.Batch { return &batch{t: t} }

// Close is a no-op: the Hub, not the Transport, owns the inbox queue's
// lifetime, since a peer may still be enqueueing into it after this
// rank stops polling.
func (t *Transport) Close() error { return nil }

type batch struct {
	t    *Transport
	msgs []transport.Message
}

func (b *batch) AddSend(msg transport.Message) error {
	b.msgs = append(b.msgs, msg)
	return nil
}

func (b *batch) AddDMA(peerID uint64, desc transport.DMADescriptor, write bool, userData uint64) error {
	return b.t.PostTargetDMA(peerID, desc, write, userData)
}

func (b *batch) Submit() error {
	for _, m := range b.msgs {
		if err := b.t.SendMessage(m); err != nil {
			return err
		}
	}
	b.msgs = nil
	return nil
}

func (b *batch) Len() int { return len(b.msgs) }

var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Batch     = (*batch)(nil)
)

// Package transport defines the uniform completion-source abstraction
// that both RDMA and shared-memory backends implement (component D,
// SPEC_FULL.md §4.D). Its shape mirrors the teacher's io_uring Ring:
// posting a message is the Ring.SubmitIOCmd analogue, draining
// completions is the Ring.WaitForCompletion analogue, and Batch gives
// both a way to coalesce multiple posts into one syscall/ioctl.
package transport

import "errors"

// ErrQueueFull is returned when a transport's submission side has no
// free slots. The initiator/target state machines treat this as a
// transient condition and retry on the next progress-loop iteration.
var ErrQueueFull = errors.New("transport: submission queue full")

// Message describes one unit of work to post: a Put/Get/Atomic/Fetch/
// Swap request or its reply, already wire-encoded by internal/wire.
type Message struct {
	PeerID   uint64 // opaque, transport-assigned connection identifier
	Header   []byte // encoded HdrCommon + operation-specific tail
	Payload  []byte // inline data, nil when PktFmt names an RDMA/indirect descriptor
	UserData uint64 // echoed back on the matching Completion
}

// DMADescriptor names a remote memory region for RDMA read/write,
// supplied by the target side when binding an MD to a request.
type DMADescriptor struct {
	Addr   uint64
	RKey   uint32
	Length uint32
	Local  []byte // local buffer RDMA'd into/out of
}

// CompletionKind classifies a Completion the same way the teacher's
// Result.Value()/Error() pair classifies a CQE.
type CompletionKind uint8

const (
	CompletionSend CompletionKind = iota
	CompletionRecv
	CompletionRDMARead
	CompletionRDMAWrite
	CompletionError
)

// Completion is one entry drained by PollCompletions.
type Completion struct {
	Kind     CompletionKind
	UserData uint64
	PeerID   uint64
	Data     []byte // populated for CompletionRecv
	Err      error
}

// Transport is the uniform interface over RDMA verbs and shared-memory
// backends. One Transport instance serves one NI; the dispatcher
// (internal/dispatch) owns a single goroutine that calls PollCompletions
// in a tight loop (SPEC_FULL.md §4.I / §5).
type Transport interface {
	// SendMessage posts msg for delivery to msg.PeerID. Returns
	// ErrQueueFull if no submission slot is currently free.
	SendMessage(msg Message) error

	// PostTargetDMA posts an RDMA read or write against desc, used by
	// the target state machine to pull Put payloads or push Get replies
	// directly into/out of a bound MD without an intermediate copy.
	PostTargetDMA(peerID uint64, desc DMADescriptor, write bool, userData uint64) error

	// SetSendCompletionThreshold controls how many posted sends must
	// complete before a send-side Completion is generated, letting the
	// caller batch acknowledgement without starving per-message events
	// entirely (mirrors the teacher's IOSQE_CQE_SKIP_SUCCESS-style
	// batching knob, generalized to a threshold rather than a flag).
	SetSendCompletionThreshold(n int)

	// PollCompletions drains up to max ready completions without
	// blocking longer than timeoutMicros (0 = return immediately).
	PollCompletions(max int, timeoutMicros int) ([]Completion, error)

	// NewBatch returns a Batch for coalescing multiple posts.
	NewBatch() Batch

	// Close releases the transport's resources (QPs, SRQ, mmap'd
	// segments). No further calls are valid afterward.
	Close() error
}

// Batch coalesces multiple SendMessage/PostTargetDMA calls so they reach
// the underlying backend in one submission, the same role the teacher's
// Batch plays for io_uring SQEs.
type Batch interface {
	AddSend(msg Message) error
	AddDMA(peerID uint64, desc DMADescriptor, write bool, userData uint64) error
	Submit() error
	Len() int
}

// Config carries backend-agnostic transport construction parameters.
type Config struct {
	NIIndex        uint16
	MaxQueueDepth  uint32
	CompletionsCap uint32
}

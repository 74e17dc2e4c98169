package wire

import "unsafe"

// HdrCommon is the 16-byte header common to every wire message
// (spec.md §6 "hdr_common"). Packed fields are exposed as separate Go
// fields for ergonomics; Marshal/Unmarshal pack them per the wire layout.
type HdrCommon struct {
	Version   uint8  // 4 bits on the wire, must equal HdrVersion1
	Operation uint8  // 8 bits
	NIType    NIType // 2 bits
	PktFmt    PktFmt // 2 bits
	Length    uint64 // 64 bits, big-endian on the wire
}

// Compile-time size check is not meaningful on this struct (the wire
// layout is bit-packed, not struct-aligned); wire_test.go's
// round-trip test is the authoritative check instead.
var _ = unsafe.Sizeof(HdrCommon{})

// ReqHdr is the request-tail carried after HdrCommon for OP_PUT/GET/
// ATOMIC/FETCH/SWAP (spec.md §6 "req_hdr").
type ReqHdr struct {
	SrcNID    uint32
	SrcPID    uint32
	PTIndex   uint32
	MatchBits uint64
	HdrData   uint64
	RLength   uint64
	ROffset   uint64
	AckReq    AckMode
	AtomOp    uint8
	AtomType  uint8
	Operand   uint64
	Handle    uint64 // initiator-side xi handle, echoed back in ACK/REPLY
}

// AckMode mirrors PTL_ACK_REQ / PTL_CT_ACK_REQ / PTL_OC_ACK_REQ / PTL_NO_ACK_REQ.
type AckMode uint8

const (
	AckNone AckMode = iota
	AckFull
	AckCT
	AckOC
)

// ReplyHdr is the tail for OP_REPLY/OP_ACK/OP_CT_ACK/OP_OC_ACK.
type ReplyHdr struct {
	Handle    uint64 // echoes ReqHdr.Handle
	NIFail    NIFail
	MLength   uint64 // length actually matched/moved
	RemOffset uint64 // offset the target matched at
	HdrData   uint64
}

// DataDescKind tags the DataDesc union (spec.md §6 "data_t").
type DataDescKind uint8

const (
	DataInline DataDescKind = iota
	DataImmediateSGE
	DataRDMA
	DataIndirectRDMA
)

// SGE is a single scatter-gather element.
type SGE struct {
	Addr   uint64
	Length uint32
	LKey   uint32
}

// RDMADesc addresses a single remote region for RDMA read/write.
type RDMADesc struct {
	Addr   uint64
	RKey   uint32
	Length uint32
}

// IndirectRDMADesc points at an SGE list that itself must be fetched
// before the real transfer, used when an MD's SGE list exceeds a
// descriptor's inline capacity (spec.md §4.H "Indirect descriptors").
type IndirectRDMADesc struct {
	ListAddr uint64
	ListRKey uint32
	Count    uint32
}

// DataDesc is the tagged union: inline bytes | immediate SGE list |
// RDMA descriptor | indirect RDMA descriptor.
type DataDesc struct {
	Kind     DataDescKind
	Inline   []byte
	SGEs     []SGE
	RDMA     RDMADesc
	Indirect IndirectRDMADesc
}

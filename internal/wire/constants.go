// Package wire defines the on-the-wire Portals 4 message format: the
// common header, per-operation tails, and the tagged data-descriptor
// union, plus their encode/decode. Layout follows spec.md §6.
package wire

// Operation codes (hdr_common.operation, 8 bits).
const (
	OpPut uint8 = iota
	OpGet
	OpAtomic
	OpFetch
	OpSwap
	OpReply
	OpAck
	OpCTAck
	OpOCAck
	OpRDMADisc
)

// OpIsRequest reports whether op is a target-bound request (spec.md §4.I:
// "operation <= OP_SWAP => Req").
func OpIsRequest(op uint8) bool { return op <= OpSwap }

// OpIsReply reports whether op is an initiator-bound reply
// ("operation >= OP_REPLY => Init").
func OpIsReply(op uint8) bool { return op >= OpReply && op != OpRDMADisc }

// HdrVersion1 is the only supported wire version (hdr_common.version).
const HdrVersion1 uint8 = 1

// NIType encodes the 2-bit ni_type field: matching/non-matching x logical/physical.
type NIType uint8

const (
	NITypeMatchingLogical NIType = iota
	NITypeMatchingPhysical
	NITypeNonMatchingLogical
	NITypeNonMatchingPhysical
)

func (t NIType) Matching() bool { return t == NITypeMatchingLogical || t == NITypeMatchingPhysical }
func (t NIType) Logical() bool {
	return t == NITypeMatchingLogical || t == NITypeNonMatchingLogical
}

// PktFmt encodes the 2-bit pkt_fmt field: how the data descriptor is carried.
type PktFmt uint8

const (
	PktFmtInline PktFmt = iota
	PktFmtRDMADesc
	PktFmtIndirectDesc
)

// Atomic/fetch/swap operation codes (hdr req_hdr.atom_op).
const (
	AtomMin uint8 = iota
	AtomMax
	AtomMinMax
	AtomSum
	AtomProd
	AtomLOR
	AtomLAND
	AtomBOR
	AtomBAND
	AtomLXOR
	AtomBXOR
	AtomSwap
	AtomCSwap
	AtomCSwapNE
	AtomCSwapLE
	AtomCSwapLT
	AtomCSwapGE
	AtomCSwapGT
	AtomMSwap
)

// Atomic operand datatypes (hdr req_hdr.atom_type).
const (
	AtomTypeInt8 uint8 = iota
	AtomTypeUint8
	AtomTypeInt16
	AtomTypeUint16
	AtomTypeInt32
	AtomTypeUint32
	AtomTypeInt64
	AtomTypeUint64
	AtomTypeFloat32
	AtomTypeFloat64
	AtomTypeFloat32Complex
	AtomTypeFloat64Complex
)

// NIFail values, attached to events (spec.md §6 Events).
type NIFail uint8

const (
	NIFailOK NIFail = iota
	NIFailUndeliverable
	NIFailDropped
	NIFailPermViolation
	NIFailOpViolation
	NIFailSegv
	NIFailNoMatch
)

// EventType enumerates the event kinds delivered on an EQ (spec.md §6).
type EventType uint8

const (
	EventSend EventType = iota
	EventAck
	EventReply
	EventPut
	EventPutOverflow
	EventGet
	EventGetOverflow
	EventAtomic
	EventAtomicOverflow
	EventFetchAtomic
	EventFetchAtomicOverflow
	EventSearch
	EventLink
	EventAutoUnlink
	EventAutoFree
	EventPTDisabled
	EventDropped
)

// Header sizes in bytes.
const (
	// HdrCommonSize is the on-wire size of HdrCommon: byte 0 packs
	// version(4b)+ni_type(2b)+pkt_fmt(2b), byte 1 is operation, bytes
	// 2-7 are reserved (padding to an 8-byte boundary so Length starts
	// aligned), bytes 8-15 carry Length as big-endian uint64.
	HdrCommonSize = 16
	ReqHdrSize    = 64 // fixed request-tail size (see marshal.go field list)
	ReplyHdrSize  = 40
)

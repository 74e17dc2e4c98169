package wire

import (
	"encoding/binary"
	"errors"
)

// ErrInsufficientData mirrors the teacher's marshal-error idiom.
var ErrInsufficientData = errors.New("wire: insufficient data for unmarshal")

// ErrBadVersion is returned when HdrCommon.Version != HdrVersion1
// (spec.md §6: "Must equal 1; else DropBuf").
var ErrBadVersion = errors.New("wire: unsupported header version")

// EncodeHdrCommon packs HdrCommon into its 16-byte (HdrCommonSize) wire form:
// byte 0: version(4 bits, high nibble) | ni_type(2 bits) | pkt_fmt(2 bits)
// byte 1: operation
// bytes 2-7: unused/reserved (kept zero)
// bytes 8-15: length as an 8-byte big-endian integer, matching
// spec.md's "length 64 bits (be)".
func EncodeHdrCommon(h HdrCommon) []byte {
	buf := make([]byte, 16)
	buf[0] = (h.Version << 4) | (uint8(h.NIType) << 2) | uint8(h.PktFmt)
	buf[1] = h.Operation
	binary.BigEndian.PutUint64(buf[8:16], h.Length)
	return buf
}

// DecodeHdrCommon is the inverse of EncodeHdrCommon. Returns ErrBadVersion
// if the wire version does not equal HdrVersion1 (caller must DropBuf).
func DecodeHdrCommon(data []byte) (HdrCommon, error) {
	if len(data) < 16 {
		return HdrCommon{}, ErrInsufficientData
	}
	h := HdrCommon{
		Version:   data[0] >> 4,
		NIType:    NIType((data[0] >> 2) & 0x3),
		PktFmt:    PktFmt(data[0] & 0x3),
		Operation: data[1],
		Length:    binary.BigEndian.Uint64(data[8:16]),
	}
	if h.Version != HdrVersion1 {
		return h, ErrBadVersion
	}
	return h, nil
}

// EncodeReqHdr packs the request tail (little-endian small integers,
// per spec.md §6 "little-endian small integers").
func EncodeReqHdr(r ReqHdr) []byte {
	buf := make([]byte, 64)
	binary.LittleEndian.PutUint32(buf[0:4], r.SrcNID)
	binary.LittleEndian.PutUint32(buf[4:8], r.SrcPID)
	binary.LittleEndian.PutUint32(buf[8:12], r.PTIndex)
	binary.LittleEndian.PutUint64(buf[16:24], r.MatchBits)
	binary.LittleEndian.PutUint64(buf[24:32], r.HdrData)
	binary.LittleEndian.PutUint64(buf[32:40], r.RLength)
	binary.LittleEndian.PutUint64(buf[40:48], r.ROffset)
	buf[48] = byte(r.AckReq)
	buf[49] = r.AtomOp
	buf[50] = r.AtomType
	binary.LittleEndian.PutUint64(buf[56:64], r.Handle)
	// Operand is carried separately (its width depends on AtomType) by
	// EncodeOperand/DecodeOperand below, not inlined into the fixed tail.
	return buf
}

// DecodeReqHdr is the inverse of EncodeReqHdr.
func DecodeReqHdr(data []byte) (ReqHdr, error) {
	if len(data) < 64 {
		return ReqHdr{}, ErrInsufficientData
	}
	return ReqHdr{
		SrcNID:    binary.LittleEndian.Uint32(data[0:4]),
		SrcPID:    binary.LittleEndian.Uint32(data[4:8]),
		PTIndex:   binary.LittleEndian.Uint32(data[8:12]),
		MatchBits: binary.LittleEndian.Uint64(data[16:24]),
		HdrData:   binary.LittleEndian.Uint64(data[24:32]),
		RLength:   binary.LittleEndian.Uint64(data[32:40]),
		ROffset:   binary.LittleEndian.Uint64(data[40:48]),
		AckReq:    AckMode(data[48]),
		AtomOp:    data[49],
		AtomType:  data[50],
		Handle:    binary.LittleEndian.Uint64(data[56:64]),
	}, nil
}

// EncodeReplyHdr packs the reply tail.
func EncodeReplyHdr(r ReplyHdr) []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint64(buf[0:8], r.Handle)
	buf[8] = byte(r.NIFail)
	binary.LittleEndian.PutUint64(buf[16:24], r.MLength)
	binary.LittleEndian.PutUint64(buf[24:32], r.RemOffset)
	binary.LittleEndian.PutUint64(buf[32:40], r.HdrData)
	return buf
}

// DecodeReplyHdr is the inverse of EncodeReplyHdr.
func DecodeReplyHdr(data []byte) (ReplyHdr, error) {
	if len(data) < 40 {
		return ReplyHdr{}, ErrInsufficientData
	}
	return ReplyHdr{
		Handle:    binary.LittleEndian.Uint64(data[0:8]),
		NIFail:    NIFail(data[8]),
		MLength:   binary.LittleEndian.Uint64(data[16:24]),
		RemOffset: binary.LittleEndian.Uint64(data[24:32]),
		HdrData:   binary.LittleEndian.Uint64(data[32:40]),
	}, nil
}

// EncodeRDMADesc packs an RDMADesc (16 bytes).
func EncodeRDMADesc(d RDMADesc) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], d.Addr)
	binary.LittleEndian.PutUint32(buf[8:12], d.RKey)
	binary.LittleEndian.PutUint32(buf[12:16], d.Length)
	return buf
}

// DecodeRDMADesc is the inverse of EncodeRDMADesc.
func DecodeRDMADesc(data []byte) (RDMADesc, error) {
	if len(data) < 16 {
		return RDMADesc{}, ErrInsufficientData
	}
	return RDMADesc{
		Addr:   binary.LittleEndian.Uint64(data[0:8]),
		RKey:   binary.LittleEndian.Uint32(data[8:12]),
		Length: binary.LittleEndian.Uint32(data[12:16]),
	}, nil
}

// EncodeIndirectRDMADesc packs an IndirectRDMADesc (16 bytes).
func EncodeIndirectRDMADesc(d IndirectRDMADesc) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], d.ListAddr)
	binary.LittleEndian.PutUint32(buf[8:12], d.ListRKey)
	binary.LittleEndian.PutUint32(buf[12:16], d.Count)
	return buf
}

// DecodeIndirectRDMADesc is the inverse of EncodeIndirectRDMADesc.
func DecodeIndirectRDMADesc(data []byte) (IndirectRDMADesc, error) {
	if len(data) < 16 {
		return IndirectRDMADesc{}, ErrInsufficientData
	}
	return IndirectRDMADesc{
		ListAddr: binary.LittleEndian.Uint64(data[0:8]),
		ListRKey: binary.LittleEndian.Uint32(data[8:12]),
		Count:    binary.LittleEndian.Uint32(data[12:16]),
	}, nil
}

// EncodeOperand packs a typed atomic operand into 8 bytes, little-endian,
// regardless of the narrower AtomType width (simplifies wire layout;
// the receiver reinterprets only the low N bytes per AtomType).
func EncodeOperand(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// DecodeOperand is the inverse of EncodeOperand.
func DecodeOperand(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, ErrInsufficientData
	}
	return binary.LittleEndian.Uint64(data), nil
}

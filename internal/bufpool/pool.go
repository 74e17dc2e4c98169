// Package bufpool provides pooled byte buffers for message payloads,
// avoiding hot-path allocation in the initiator/target/dispatch state
// machines (component C, SPEC_FULL.md §4.C).
//
// Uses size-bucketed pools with power-of-2 sizes (mirroring the
// teacher's 128KB/256KB/512KB/1MB buckets) plus an MTU bucket sized for
// the common small-message case, so posting a send touches the
// allocator only on a bucket miss.
package bufpool

import "sync"

// Buffer size thresholds. mtuBucket covers small control/ack traffic
// and short Puts that fit in one network MTU plus header overhead;
// anything larger falls through to the power-of-2 buckets.
const (
	mtuBucket = 9000 + 256 // jumbo-frame MTU + wire header slack
	size128k  = 128 * 1024
	size256k  = 256 * 1024
	size512k  = 512 * 1024
	size1m    = 1024 * 1024
)

var globalPool = struct {
	poolMTU  sync.Pool
	pool128k sync.Pool
	pool256k sync.Pool
	pool512k sync.Pool
	pool1m   sync.Pool
}{
	poolMTU:  sync.Pool{New: func() any { b := make([]byte, mtuBucket); return &b }},
	pool128k: sync.Pool{New: func() any { b := make([]byte, size128k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool512k: sync.Pool{New: func() any { b := make([]byte, size512k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// Buffer is a pooled byte slice plus the rank that owns the underlying
// shared-memory region it may have been carved from. A dispatcher that
// receives a borrowed buffer from another rank's fragment queue routes
// it back to OwnerRank on release instead of freeing it locally
// (SPEC_FULL.md §4.C).
type Buffer struct {
	Data      []byte
	OwnerRank int32
}

// LocalOwner marks a Buffer as backed by process-local memory, not a
// borrowed shared-memory fragment.
const LocalOwner int32 = -1

// Get returns a pooled buffer of at least the requested size, owned
// locally. Caller must call Put when done.
func Get(size uint32) *Buffer {
	return &Buffer{Data: getBytes(size), OwnerRank: LocalOwner}
}

// GetBorrowed is like Get but tags the buffer as borrowed from rank's
// shared-memory segment, so Put can route it back instead of pooling it.
func GetBorrowed(size uint32, rank int32) *Buffer {
	return &Buffer{Data: getBytes(size), OwnerRank: rank}
}

func getBytes(size uint32) []byte {
	switch {
	case size <= mtuBucket:
		return (*globalPool.poolMTU.Get().(*[]byte))[:size]
	case size <= size128k:
		return (*globalPool.pool128k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*globalPool.pool256k.Get().(*[]byte))[:size]
	case size <= size512k:
		return (*globalPool.pool512k.Get().(*[]byte))[:size]
	default:
		return (*globalPool.pool1m.Get().(*[]byte))[:size]
	}
}

// Put returns buf to its originating pool. If buf is borrowed from a
// remote rank's shared-memory segment (OwnerRank != LocalOwner), the
// caller is expected to have already routed it back onto that rank's
// fragment queue (internal/shmq) before calling Put; Put on a borrowed
// buffer is then a no-op, since the memory isn't ours to recycle.
func Put(buf *Buffer) {
	if buf == nil || buf.OwnerRank != LocalOwner {
		return
	}
	putBytes(buf.Data)
}

func putBytes(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case mtuBucket:
		globalPool.poolMTU.Put(&buf)
	case size128k:
		globalPool.pool128k.Put(&buf)
	case size256k:
		globalPool.pool256k.Put(&buf)
	case size512k:
		globalPool.pool512k.Put(&buf)
	case size1m:
		globalPool.pool1m.Put(&buf)
		// non-standard capacity buffers are not returned to any pool
	}
}

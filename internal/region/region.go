// Package region implements the registered-memory-region façade MDs
// reference. spec.md §1 treats MR registration with the underlying
// verbs provider as an opaque "register(region) → cookie" collaborator;
// Region is the in-process backing store behind that cookie for the
// loopback VerbsProvider and the shmem transport, sharded the way the
// teacher's backend.Memory shards a RAM disk so concurrent target-side
// data movement into disjoint offsets of the same region doesn't
// serialize on one lock.
package region

import (
	"fmt"
	"sync"
)

// ShardSize mirrors the teacher's backend.Memory shard granularity:
// enough parallelism for concurrent Put/Get streams without a lock per
// byte.
const ShardSize = 64 * 1024

// Region is one registered memory region: a contiguous local buffer an
// MD points into, sharded-locked so the dispatcher's RDMA-read/write
// emulation and PtlAtomic's per-word update can both proceed against
// disjoint offsets concurrently.
type Region struct {
	data   []byte
	shards []sync.RWMutex
	cookie uint64
}

// Cookie is the opaque value an MD carries instead of a raw pointer;
// Register hands one back, analogous to a verbs MR lkey/rkey pair.
type Cookie = uint64

var (
	registryMu sync.Mutex
	registry   = map[Cookie]*Region{}
	nextCookie Cookie = 1
)

// Register wraps buf as a Region and returns its cookie. buf is not
// copied — callers registering memory they still write to directly
// (rather than through Region's accessors) must coordinate externally,
// same caveat a real verbs MR registration carries.
func Register(buf []byte) Cookie {
	numShards := (len(buf) + ShardSize - 1) / ShardSize
	if numShards == 0 {
		numShards = 1
	}
	r := &Region{
		data:   buf,
		shards: make([]sync.RWMutex, numShards),
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	r.cookie = nextCookie
	nextCookie++
	registry[r.cookie] = r
	return r.cookie
}

// Deregister removes cookie from the registry. Any Region handle a
// caller is still holding remains valid; Deregister only prevents
// future Resolve lookups.
func Deregister(cookie Cookie) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, cookie)
}

// Resolve looks up a previously registered Region by cookie.
func Resolve(cookie Cookie) (*Region, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	r, ok := registry[cookie]
	return r, ok
}

// Len returns the region's byte length.
func (r *Region) Len() int64 { return int64(len(r.data)) }

func (r *Region) shardRange(off, length int64) (start, end int) {
	if length <= 0 {
		length = 1
	}
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(r.shards) {
		end = len(r.shards) - 1
	}
	if start < 0 {
		start = 0
	}
	return start, end
}

// ErrOutOfRange is returned when an offset+length exceeds the region.
var ErrOutOfRange = fmt.Errorf("region: offset+length out of range")

// ReadAt copies length bytes starting at off into dst (the target's
// OP_GET data-movement path: RDMA-write/shmem-copy region data out).
func (r *Region) ReadAt(dst []byte, off int64, length int64) error {
	if off < 0 || off+length > int64(len(r.data)) {
		return ErrOutOfRange
	}
	start, end := r.shardRange(off, length)
	for i := start; i <= end; i++ {
		r.shards[i].RLock()
	}
	copy(dst, r.data[off:off+length])
	for i := start; i <= end; i++ {
		r.shards[i].RUnlock()
	}
	return nil
}

// WriteAt copies src into the region at off (the target's OP_PUT/
// ATOMIC data-movement path: RDMA-read the initiator's put-MD into
// this region).
func (r *Region) WriteAt(src []byte, off int64) error {
	if off < 0 || off+int64(len(src)) > int64(len(r.data)) {
		return ErrOutOfRange
	}
	start, end := r.shardRange(off, int64(len(src)))
	for i := start; i <= end; i++ {
		r.shards[i].Lock()
	}
	copy(r.data[off:off+int64(len(src))], src)
	for i := start; i <= end; i++ {
		r.shards[i].Unlock()
	}
	return nil
}

// AtomicApply runs fn against the region bytes at [off, off+length)
// under the shard's write lock, serializing concurrent OP_SWAP/
// OP_FETCH/OP_ATOMIC updates to the same word the way spec.md §4.H's
// "per-LE spin-lock" serializes the operand apply step. fn receives
// the live slice and may read-modify-write it in place; it must not
// retain the slice past return.
func (r *Region) AtomicApply(off, length int64, fn func(word []byte)) error {
	if off < 0 || off+length > int64(len(r.data)) {
		return ErrOutOfRange
	}
	start, end := r.shardRange(off, length)
	for i := start; i <= end; i++ {
		r.shards[i].Lock()
	}
	fn(r.data[off : off+length])
	for i := start; i <= end; i++ {
		r.shards[i].Unlock()
	}
	return nil
}

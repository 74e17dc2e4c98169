package portals4

// Default parameters (spec.md §6 "Environment / parameters"). These are
// the defaults `get_param`/`PtlGetParam` returns when a job hasn't
// overridden them via internal/config; NewNI's Config may set any of
// these explicitly.
const (
	// DefaultWCCount bounds how many work completions one progress-
	// thread poll iteration drains (spec.md §4.I's "poll_rdma_cq(batch)").
	DefaultWCCount = 16

	// DefaultSRQRepostSize is the default SRQ repost batch size. NewNI
	// derives internal/dispatch's repost watermark from it (RepostLow =
	// DefaultSRQRepostSize/4) and sets no Repost callback, so no repost
	// is issued (mirrors the teacher's FlushSubmissions batching idea,
	// generalized from COMMIT_AND_FETCH_REQ SQEs to SRQ WRs).
	DefaultSRQRepostSize = 64

	// DefaultRDMATimeoutMs is the default PTL_RDMA_TIMEOUT in
	// milliseconds. No code path applies it: a target transaction waits
	// in Rdma until rdma_comp reaches zero, with no timeout.
	DefaultRDMATimeoutMs = 5000

	// DefaultMaxInline is the largest payload a Put/Atomic may carry
	// inline in the request rather than via an RDMA/indirect descriptor.
	DefaultMaxInline = 256

	// DefaultMaxMsgSize is the default largest single Put/Get/Atomic/
	// Fetch/Swap length. No request path checks lengths against it.
	DefaultMaxMsgSize = 1 << 30

	// DefaultMaxAtomicSize is the largest operand length accepted for
	// PtlAtomic/PtlFetchAtomic/PtlSwap (spec.md §4 edge cases table).
	DefaultMaxAtomicSize = 8

	// DefaultBufferSize is the shared-memory fragment buffer capacity
	// (spec.md §3 "Buffer": "chosen >= MTU + worst header; typically 4
	// KiB to 64 KiB on shared memory").
	DefaultBufferSize = 4096
)

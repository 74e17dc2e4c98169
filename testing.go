package portals4

import (
	"sync"

	"github.com/musleh123/portals4/internal/interfaces"
	"github.com/musleh123/portals4/internal/transport"
)

// MockTransport provides an in-memory transport.Transport for unit
// tests: SendMessage/PostTargetDMA enqueue a synthetic Completion that
// PollCompletions later drains, instead of touching real verbs/shmem
// resources. Mirrors the teacher's MockBackend — an in-memory stand-in
// with call-count tracking, implementing the full interface so test
// code can exercise a real NI without real hardware.
type MockTransport struct {
	mu         sync.Mutex
	pending    []transport.Completion
	sendCalls  int
	dmaCalls   int
	closed     bool
	sendErr    error // when set, SendMessage/PostTargetDMA return it
	forceFail  bool  // when true, queued completions carry Err set
	thresholdN int
}

// NewMockTransport creates a mock transport with no queued completions.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (t *MockTransport) SendMessage(msg transport.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendCalls++
	if t.sendErr != nil {
		return t.sendErr
	}
	c := transport.Completion{Kind: transport.CompletionSend, UserData: msg.UserData, PeerID: msg.PeerID}
	if t.forceFail {
		c.Err = NewError("MockTransport.SendMessage", ErrCodeTransport, "forced failure")
	}
	t.pending = append(t.pending, c)
	return nil
}

func (t *MockTransport) PostTargetDMA(peerID uint64, desc transport.DMADescriptor, write bool, userData uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dmaCalls++
	if t.sendErr != nil {
		return t.sendErr
	}
	kind := transport.CompletionRDMARead
	if write {
		kind = transport.CompletionRDMAWrite
	}
	t.pending = append(t.pending, transport.Completion{Kind: kind, UserData: userData, PeerID: peerID})
	return nil
}

func (t *MockTransport) SetSendCompletionThreshold(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.thresholdN = n
}

// PollCompletions drains up to max queued completions, ignoring
// timeoutMicros (the mock never blocks).
func (t *MockTransport) PollCompletions(max int, timeoutMicros int) ([]transport.Completion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return nil, nil
	}
	n := len(t.pending)
	if max > 0 && n > max {
		n = max
	}
	out := t.pending[:n]
	t.pending = t.pending[n:]
	return out, nil
}

func (t *MockTransport) NewBatch() transport.Batch { return &mockBatch{t: t} }

func (t *MockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// InjectRecv queues a synthetic recv completion, simulating a peer's
// message arriving, for tests exercising the dispatcher's request/reply
// routing without a live transport.
func (t *MockTransport) InjectRecv(peerID uint64, userData uint64, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, transport.Completion{
		Kind: transport.CompletionRecv, PeerID: peerID, UserData: userData, Data: data,
	})
}

// SetSendError makes subsequent SendMessage/PostTargetDMA calls fail.
func (t *MockTransport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// SetForceFail marks every subsequently queued send completion as
// failed, simulating NI_UNDELIVERABLE.
func (t *MockTransport) SetForceFail(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forceFail = fail
}

// CallCounts reports how many times each posting method was invoked.
func (t *MockTransport) CallCounts() (sends, dmas int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sendCalls, t.dmaCalls
}

func (t *MockTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type mockBatch struct {
	t   *MockTransport
	n   int
	msg []transport.Message
}

func (b *mockBatch) AddSend(msg transport.Message) error {
	b.msg = append(b.msg, msg)
	b.n++
	return nil
}

func (b *mockBatch) AddDMA(peerID uint64, desc transport.DMADescriptor, write bool, userData uint64) error {
	b.n++
	return nil
}

func (b *mockBatch) Submit() error {
	for _, m := range b.msg {
		if err := b.t.SendMessage(m); err != nil {
			return err
		}
	}
	return nil
}

func (b *mockBatch) Len() int { return b.n }

// MockVerbsProvider is an in-memory interfaces.VerbsProvider for tests
// that exercise registration bookkeeping and verbs-level QP/CQ plumbing
// without a real RDMA NIC. No transport in this repository is built on
// interfaces.VerbsProvider.
type MockVerbsProvider struct {
	mu       sync.Mutex
	nextRKey uint32
	nextQP   uint32
	pending  []interfaces.VerbsCompletion
}

func NewMockVerbsProvider() *MockVerbsProvider {
	return &MockVerbsProvider{nextRKey: 1, nextQP: 1}
}

func (p *MockVerbsProvider) RegisterRegion(addr uintptr, length uint64) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rkey := p.nextRKey
	p.nextRKey++
	return rkey, nil
}

func (p *MockVerbsProvider) DeregisterRegion(rkey uint32) error { return nil }

func (p *MockVerbsProvider) CreateQP(peerID uint64) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	qp := p.nextQP
	p.nextQP++
	return qp, nil
}

func (p *MockVerbsProvider) DestroyQP(qpNum uint32) error { return nil }

func (p *MockVerbsProvider) PostSend(qpNum uint32, data []byte, userData uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, interfaces.VerbsCompletion{UserData: userData, QPNum: qpNum, Bytes: uint32(len(data))})
	return nil
}

func (p *MockVerbsProvider) PostRecv(qpNum uint32, buf []byte, userData uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, interfaces.VerbsCompletion{UserData: userData, QPNum: qpNum})
	return nil
}

func (p *MockVerbsProvider) PostRDMARead(qpNum uint32, localBuf []byte, remoteAddr uint64, rkey uint32, userData uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, interfaces.VerbsCompletion{UserData: userData, QPNum: qpNum, Bytes: uint32(len(localBuf))})
	return nil
}

func (p *MockVerbsProvider) PostRDMAWrite(qpNum uint32, localBuf []byte, remoteAddr uint64, rkey uint32, userData uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, interfaces.VerbsCompletion{UserData: userData, QPNum: qpNum, Bytes: uint32(len(localBuf))})
	return nil
}

func (p *MockVerbsProvider) PollCQ(max int, timeoutMicros int) ([]interfaces.VerbsCompletion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil, nil
	}
	n := len(p.pending)
	if max > 0 && n > max {
		n = max
	}
	out := p.pending[:n]
	p.pending = p.pending[n:]
	return out, nil
}

// MockKnemProvider is an in-memory interfaces.KnemProvider that keeps
// registered buffers in a map and performs the cross-process copy via a
// plain slice copy, standing in for the kernel module in tests.
type MockKnemProvider struct {
	mu        sync.Mutex
	nextToken uint64
	regions   map[uint64][]byte
}

func NewMockKnemProvider() *MockKnemProvider {
	return &MockKnemProvider{nextToken: 1, regions: make(map[uint64][]byte)}
}

// bind associates a cookie with a backing buffer so CopyFrom/CopyTo have
// somewhere to read/write; production KNEM resolves this via the kernel
// module's pinned-page table instead.
func (k *MockKnemProvider) bind(buf []byte) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	cookie := k.nextToken
	k.nextToken++
	k.regions[cookie] = buf
	return cookie
}

func (k *MockKnemProvider) RegisterRegion(addr uintptr, length uint64) (uint64, error) {
	return k.bind(make([]byte, length)), nil
}

func (k *MockKnemProvider) DeregisterRegion(cookie uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.regions, cookie)
	return nil
}

func (k *MockKnemProvider) CopyFrom(cookie uint64, offset uint64, dst []byte) error {
	k.mu.Lock()
	src, ok := k.regions[cookie]
	k.mu.Unlock()
	if !ok {
		return NewError("MockKnemProvider.CopyFrom", ErrCodeHandleInvalid, "unknown cookie")
	}
	copy(dst, src[offset:])
	return nil
}

func (k *MockKnemProvider) CopyTo(cookie uint64, offset uint64, src []byte) error {
	k.mu.Lock()
	dst, ok := k.regions[cookie]
	k.mu.Unlock()
	if !ok {
		return NewError("MockKnemProvider.CopyTo", ErrCodeHandleInvalid, "unknown cookie")
	}
	copy(dst[offset:], src)
	return nil
}

var (
	_ transport.Transport      = (*MockTransport)(nil)
	_ transport.Batch          = (*mockBatch)(nil)
	_ interfaces.VerbsProvider = (*MockVerbsProvider)(nil)
	_ interfaces.KnemProvider  = (*MockKnemProvider)(nil)
)

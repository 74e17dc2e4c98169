package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/musleh123/portals4/internal/transport"
	"github.com/musleh123/portals4/internal/wire"
)

func TestClassifySendComp(t *testing.T) {
	got := Classify(transport.Completion{Kind: transport.CompletionSend})
	if got != RSSendComp {
		t.Errorf("Classify = %v, want RSSendComp", got)
	}
}

func TestClassifySendCompWithErrorStillRoutesToSendComp(t *testing.T) {
	got := Classify(transport.Completion{Kind: transport.CompletionSend, Err: errors.New("boom")})
	if got != RSSendComp {
		t.Errorf("Classify = %v, want RSSendComp (caller inspects Err for NI_UNDELIVERABLE)", got)
	}
}

func TestClassifyRdmaComp(t *testing.T) {
	for _, k := range []transport.CompletionKind{transport.CompletionRDMARead, transport.CompletionRDMAWrite} {
		if got := Classify(transport.Completion{Kind: k}); got != RSRdmaComp {
			t.Errorf("Classify(%v) = %v, want RSRdmaComp", k, got)
		}
	}
}

func TestClassifyRdmaErrorIsError(t *testing.T) {
	got := Classify(transport.Completion{Kind: transport.CompletionRDMARead, Err: errors.New("x")})
	if got != RSError {
		t.Errorf("Classify = %v, want RSError", got)
	}
}

func TestClassifyRecvIsPacketRDMA(t *testing.T) {
	got := Classify(transport.Completion{Kind: transport.CompletionRecv})
	if got != RSPacketRDMA {
		t.Errorf("Classify = %v, want RSPacketRDMA", got)
	}
}

func TestClassifyRecvErrorDrops(t *testing.T) {
	got := Classify(transport.Completion{Kind: transport.CompletionRecv, Err: errors.New("x")})
	if got != RSDropBuf {
		t.Errorf("Classify = %v, want RSDropBuf", got)
	}
}

func TestClassifyPacketRouting(t *testing.T) {
	cases := []struct {
		op   uint8
		want RecvState
	}{
		{wire.OpPut, RSReq},
		{wire.OpGet, RSReq},
		{wire.OpAtomic, RSReq},
		{wire.OpFetch, RSReq},
		{wire.OpSwap, RSReq},
		{wire.OpReply, RSInit},
		{wire.OpAck, RSInit},
		{wire.OpCTAck, RSInit},
		{wire.OpOCAck, RSInit},
		{wire.OpRDMADisc, RSDisconnect},
	}
	for _, c := range cases {
		if got := ClassifyPacket(c.op); got != c.want {
			t.Errorf("ClassifyPacket(%d) = %v, want %v", c.op, got, c.want)
		}
	}
}

func TestHandleRoutesSendCompToCallback(t *testing.T) {
	var gotUserData uint64
	var gotFailed bool
	d := New(context.Background(), Config{
		OnSendComp: func(userData uint64, failed bool) {
			gotUserData = userData
			gotFailed = failed
		},
	})
	d.handle(transport.Completion{Kind: transport.CompletionSend, UserData: 42, Err: errors.New("nope")})
	if gotUserData != 42 || !gotFailed {
		t.Errorf("OnSendComp got (%d, %v), want (42, true)", gotUserData, gotFailed)
	}
}

func TestHandleRoutesRdmaCompToCallback(t *testing.T) {
	var got uint64
	d := New(context.Background(), Config{
		OnRdmaComp: func(userData uint64) { got = userData },
	})
	d.handle(transport.Completion{Kind: transport.CompletionRDMARead, UserData: 7})
	if got != 7 {
		t.Errorf("OnRdmaComp got %d, want 7", got)
	}
}

func TestHandlePacketRoutesRequestToOnRequest(t *testing.T) {
	hdr := wire.HdrCommon{Version: wire.HdrVersion1, Operation: wire.OpPut}
	encoded := wire.EncodeHdrCommon(hdr)
	encoded = append(encoded, []byte("payload")...)

	var gotPeer uint64
	var gotHdr wire.HdrCommon
	var gotPayload []byte
	d := New(context.Background(), Config{
		OnRequest: func(peerID uint64, h wire.HdrCommon, payload []byte) {
			gotPeer = peerID
			gotHdr = h
			gotPayload = payload
		},
	})
	d.handle(transport.Completion{Kind: transport.CompletionRecv, PeerID: 3, Data: encoded})

	if gotPeer != 3 {
		t.Errorf("peerID = %d, want 3", gotPeer)
	}
	if gotHdr.Operation != wire.OpPut {
		t.Errorf("hdr.Operation = %d, want OpPut", gotHdr.Operation)
	}
	if string(gotPayload) != "payload" {
		t.Errorf("payload = %q, want %q", gotPayload, "payload")
	}
}

func TestHandlePacketRoutesReplyToOnReply(t *testing.T) {
	hdr := wire.HdrCommon{Version: wire.HdrVersion1, Operation: wire.OpReply}
	encoded := wire.EncodeHdrCommon(hdr)

	var gotUserData uint64
	d := New(context.Background(), Config{
		OnReply: func(userData uint64, h wire.HdrCommon, payload []byte) {
			gotUserData = userData
		},
	})
	d.handle(transport.Completion{Kind: transport.CompletionRecv, UserData: 99, Data: encoded})
	if gotUserData != 99 {
		t.Errorf("userData = %d, want 99", gotUserData)
	}
}

func TestHandlePacketShortDataDropsWithoutPanicking(t *testing.T) {
	d := New(context.Background(), Config{})
	d.handle(transport.Completion{Kind: transport.CompletionRecv, Data: []byte{0x01}})
}

func TestMaybeRepostFiresAtWatermark(t *testing.T) {
	var gotN int
	d := New(context.Background(), Config{RepostLow: 4, Repost: func(n int) { gotN = n }})

	d.MaybeRepost(10) // well above watermark, no call
	if gotN != 0 {
		t.Errorf("Repost fired early with gotN=%d", gotN)
	}
	d.MaybeRepost(4) // at watermark
	if gotN != 1 {
		t.Errorf("gotN = %d, want 1", gotN)
	}
	d.MaybeRepost(2) // below watermark
	if gotN != 3 {
		t.Errorf("gotN = %d, want 3", gotN)
	}
}

func TestStopCancelsRunLoop(t *testing.T) {
	d := New(context.Background(), Config{Transport: noopTransport{}})
	done := make(chan error, 1)
	go func() { done <- d.Run() }()
	d.Stop()
	if err := <-done; err != nil {
		t.Errorf("Run returned error after Stop: %v", err)
	}
}

// noopTransport satisfies transport.Transport with no-op implementations,
// enough to let Dispatcher.Run poll in a tight loop until Stop is called.
type noopTransport struct{}

func (noopTransport) SendMessage(transport.Message) error { return nil }
func (noopTransport) PostTargetDMA(uint64, transport.DMADescriptor, bool, uint64) error {
	return nil
}
func (noopTransport) SetSendCompletionThreshold(int) {}
func (noopTransport) PollCompletions(int, int) ([]transport.Completion, error) {
	return nil, nil
}
func (noopTransport) NewBatch() transport.Batch { return nil }
func (noopTransport) Close() error              { return nil }

package initiator

import "testing"

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, len(effects))
	for i, e := range effects {
		out[i] = e.Kind
	}
	return out
}

func TestStartToPrepReq(t *testing.T) {
	next, effects := Transition(Start, EvBegin, false)
	if next != PrepReq {
		t.Errorf("next = %v, want PrepReq", next)
	}
	if len(effects) != 1 || effects[0].Kind != EffectComposeHeader {
		t.Errorf("effects = %v, want [EffectComposeHeader]", kinds(effects))
	}
}

func TestPrepReqParksWhenConnNotReady(t *testing.T) {
	next, effects := Transition(PrepReq, EvConnNotReady, false)
	if next != WaitConn {
		t.Errorf("next = %v, want WaitConn", next)
	}
	want := []EffectKind{EffectParkOnConn, EffectStartConnect}
	got := kinds(effects)
	for i, k := range want {
		if got[i] != k {
			t.Errorf("effects[%d] = %v, want %v", i, got[i], k)
		}
	}
}

func TestPrepReqSendsWhenConnReady(t *testing.T) {
	next, effects := Transition(PrepReq, EvConnReady, false)
	if next != SendReq {
		t.Errorf("next = %v, want SendReq", next)
	}
	if len(effects) != 1 || effects[0].Kind != EffectPostSend {
		t.Errorf("effects = %v", kinds(effects))
	}
}

func TestWaitCompAckRequestedGoesToWaitRecv(t *testing.T) {
	next, effects := Transition(WaitComp, EvSendComplete, true)
	if next != WaitRecv {
		t.Errorf("next = %v, want WaitRecv", next)
	}
	if len(effects) != 0 {
		t.Errorf("expected no effects, got %v", kinds(effects))
	}
}

func TestWaitCompNoAckSynthesizesLocalAck(t *testing.T) {
	next, effects := Transition(WaitComp, EvSendComplete, false)
	if next != LateSendEvent {
		t.Errorf("next = %v, want LateSendEvent", next)
	}
	if len(effects) != 1 || effects[0].Kind != EffectSynthesizeLocalAck {
		t.Errorf("effects = %v", kinds(effects))
	}
}

func TestWaitCompSendErrorEmitsUndeliverableAndTearsDown(t *testing.T) {
	next, effects := Transition(WaitComp, EvSendError, true)
	if next != SendError {
		t.Errorf("next = %v, want SendError", next)
	}
	want := []EffectKind{EffectEmitUndeliverable, EffectTeardown}
	got := kinds(effects)
	if len(got) != len(want) {
		t.Fatalf("effects = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("effects[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFullHappyPathReachesDone(t *testing.T) {
	xi := New(Request{})

	steps := []struct {
		ev   Event
		want State
	}{
		{EvBegin, PrepReq},
		{EvConnReady, SendReq},
		{EvSendPosted, WaitComp},
	}
	xi.AckRequested = true
	for _, s := range steps {
		xi.Step(s.ev)
		if xi.State != s.want {
			t.Fatalf("after %v: State = %v, want %v", s.ev, xi.State, s.want)
		}
	}

	xi.Step(EvSendComplete)
	if xi.State != WaitRecv {
		t.Fatalf("State = %v, want WaitRecv", xi.State)
	}
	xi.Step(EvReplyRecv)
	if xi.State != DataIn {
		t.Fatalf("State = %v, want DataIn", xi.State)
	}
	xi.Step(EvDataInDone)
	if xi.State != LateSendEvent {
		t.Fatalf("State = %v, want LateSendEvent", xi.State)
	}

	// LateSendEvent -> AckEvent -> ReplyEvent -> Cleanup -> Done take no
	// further events (each transition is unconditional).
	for _, want := range []State{AckEvent, ReplyEvent, Cleanup, Done} {
		xi.Step(EvDataInDone) // event value irrelevant at unconditional steps
		if xi.State != want {
			t.Fatalf("State = %v, want %v", xi.State, want)
		}
	}
}

func TestDoneIsTerminal(t *testing.T) {
	next, effects := Transition(Done, EvBegin, false)
	if next != Done {
		t.Errorf("Done should be a terminal state, got %v", next)
	}
	if effects != nil {
		t.Errorf("expected no effects from terminal state, got %v", effects)
	}
}

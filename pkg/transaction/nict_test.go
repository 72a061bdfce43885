package transaction

import (
	"sync"
	"testing"
	"time"

	"github.com/arzzra/sipturn/internal/timerheap"
	"github.com/arzzra/sipturn/pkg/message"
)

func testURI(t *testing.T) *message.URI {
	t.Helper()
	u, err := message.ParseURI("sip:bob@example.com")
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	return u
}

func newTestRequest(t *testing.T, method message.Method) *message.Message {
	req := message.NewRequest(method, testURI(t))
	req.AddHeader(&message.ViaHeader{Transport: "UDP", Host: "pc.example.com", Branch: NewBranch()})
	req.AddHeader(message.NewFrom(message.Addr{URI: testURI(t)}, "tag1"))
	req.AddHeader(message.NewTo(message.Addr{URI: testURI(t)}, ""))
	req.AddHeader(&message.CallIDHeader{Value_: "call-1@pc"})
	req.AddHeader(&message.CSeqHeader{Seq: 1, Method: string(method)})
	return req
}

func fastTimers() Timers {
	return Timers{T1: 20 * time.Millisecond, T2: 80 * time.Millisecond, T4: 40 * time.Millisecond}
}

func TestNICTRetransmitsOnUnreliableTransport(t *testing.T) {
	heap := timerheap.New()
	go heap.Run()
	defer heap.Stop()

	var mu sync.Mutex
	sends := 0
	send := func(msg *message.Message) error {
		mu.Lock()
		sends++
		mu.Unlock()
		return nil
	}

	req := newTestRequest(t, message.MethodOptions)
	nict := NewNICT(req, false, fastTimers(), heap, send, nil, nil, nil)
	_ = nict

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	n := sends
	mu.Unlock()
	if n < 2 {
		t.Fatalf("expected at least one retransmission, got %d sends", n)
	}
}

func TestNICTFinalResponseStopsRetransmission(t *testing.T) {
	heap := timerheap.New()
	go heap.Run()
	defer heap.Stop()

	send := func(msg *message.Message) error { return nil }
	var final *message.Message
	done := make(chan struct{})

	req := newTestRequest(t, message.MethodOptions)
	nict := NewNICT(req, false, fastTimers(), heap, send, func(resp *message.Message) {
		final = resp
		close(done)
	}, nil, nil)

	resp := message.NewResponse(200, "OK")
	resp.AddHeader(req.Via().Clone())
	resp.AddHeader(req.From().Clone())
	resp.AddHeader(req.To().Clone())
	resp.AddHeader(req.Header(message.KindCallID).Clone())
	resp.AddHeader(req.CSeq().Clone())
	nict.Receive(resp)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for final response callback")
	}
	if final == nil || final.StartLine.StatusCode != 200 {
		t.Fatalf("unexpected final response: %+v", final)
	}
	if got := nict.State(); got != "completed" {
		t.Fatalf("expected completed state, got %q", got)
	}
}

func TestBuildCancelMatchesInviteBranch(t *testing.T) {
	invite := newTestRequest(t, message.MethodInvite)
	cancel := BuildCancel(invite)
	if cancel.StartLine.Method != message.MethodCancel {
		t.Fatalf("expected CANCEL method, got %s", cancel.StartLine.Method)
	}
	if cancel.Via().Branch != invite.Via().Branch {
		t.Fatalf("CANCEL branch must match INVITE branch")
	}
	if cancel.CallID() != invite.CallID() {
		t.Fatalf("CANCEL Call-ID must match INVITE Call-ID")
	}
	if cancel.CSeq().Seq != invite.CSeq().Seq {
		t.Fatalf("CANCEL CSeq number must match INVITE CSeq number")
	}
}

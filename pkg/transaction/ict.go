package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/sipturn/internal/logging"
	"github.com/arzzra/sipturn/internal/timerheap"
	"github.com/arzzra/sipturn/pkg/message"
)

// ICT is the RFC 3261 §17.1.1 INVITE client transaction: Calling,
// Proceeding, Completed, Terminated.
type ICT struct {
	mu  sync.Mutex
	fsm *fsm.FSM
	key Key
	req *message.Message

	timers   Timers
	reliable bool
	heap     *timerheap.Heap
	send     TransportSend
	onFinal  TUCallback // delivered every provisional/final response
	onDone   func(key Key)
	log      logging.Logger

	timerA    *timerheap.Entry
	timerB    *timerheap.Entry
	timerD    *timerheap.Entry
	intervalA time.Duration
}

// NewICT creates and arms an ICT for req, immediately sending it and
// starting Timer A (if unreliable) and Timer B.
func NewICT(req *message.Message, reliable bool, timers Timers, heap *timerheap.Heap, send TransportSend, onFinal TUCallback, onDone func(Key), log logging.Logger) *ICT {
	if log == nil {
		log = logging.Noop()
	}
	t := &ICT{
		key: KeyForMessage(req, RoleClient), req: req,
		timers: timers, reliable: reliable, heap: heap, send: send,
		onFinal: onFinal, onDone: onDone, log: log,
		intervalA: timers.T1,
	}
	t.fsm = fsm.NewFSM(
		"calling",
		fsm.Events{
			{Name: "recv1xx", Src: []string{"calling", "proceeding"}, Dst: "proceeding"},
			{Name: "recv2xx", Src: []string{"calling", "proceeding"}, Dst: "terminated"},
			{Name: "recvfinal", Src: []string{"calling", "proceeding"}, Dst: "completed"},
			{Name: "timerd", Src: []string{"completed"}, Dst: "terminated"},
			{Name: "timeout", Src: []string{"calling", "proceeding"}, Dst: "terminated"},
			{Name: "transporterr", Src: []string{"calling", "proceeding", "completed"}, Dst: "terminated"},
		},
		fsm.Callbacks{
			"enter_terminated": func(_ context.Context, e *fsm.Event) { t.onEnterTerminated() },
			"enter_completed":  func(_ context.Context, e *fsm.Event) { t.onEnterCompleted() },
		},
	)

	if err := t.send(req); err != nil {
		t.mu.Lock()
		t.fsm.Event(context.Background(), "transporterr")
		t.mu.Unlock()
		return t
	}
	if !reliable {
		t.scheduleTimerA()
	}
	t.timerB = heap.Schedule(timers.TimerB(), func() { t.onTimeout() })
	return t
}

func (t *ICT) scheduleTimerA() {
	t.timerA = t.heap.Schedule(t.intervalA, func() { t.onTimerA() })
}

func (t *ICT) onTimerA() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fsm.Current() != "calling" {
		return
	}
	if err := t.send(t.req); err != nil {
		t.fsm.Event(context.Background(), "transporterr")
		return
	}
	t.intervalA *= 2
	if t.intervalA > t.timers.T2 {
		t.intervalA = t.timers.T2
	}
	t.scheduleTimerA()
}

func (t *ICT) onTimeout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.fsm.Event(context.Background(), "timeout")
}

// Receive delivers an incoming response matched to this transaction.
func (t *ICT) Receive(resp *message.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	code := resp.StartLine.StatusCode
	cur := t.fsm.Current()
	switch {
	case code < 200:
		if cur == "calling" || cur == "proceeding" {
			if cur == "calling" {
				_ = t.fsm.Event(context.Background(), "recv1xx")
			}
			if t.onFinal != nil {
				t.onFinal(resp)
			}
		}
	case code < 300:
		if cur == "calling" || cur == "proceeding" {
			t.fsm.Event(context.Background(), "recv2xx")
			if t.onFinal != nil {
				t.onFinal(resp)
			}
		}
	default:
		if cur == "calling" || cur == "proceeding" {
			t.fsm.Event(context.Background(), "recvfinal")
			t.sendACK(resp)
			if t.onFinal != nil {
				t.onFinal(resp)
			}
		} else if cur == "completed" {
			// Retransmitted final response: re-send the ACK (RFC 3261
			// §17.1.1.3), don't re-notify the TU.
			t.sendACK(resp)
		}
	}
}

// sendACK synthesizes the non-2xx ACK the transaction layer owns per
// RFC 3261 §17.1.1.3 (2xx ACKs are minted by the dialog layer instead,
// since they need the full route-set).
func (t *ICT) sendACK(resp *message.Message) {
	ack := message.NewRequest(message.MethodAck, t.req.StartLine.RequestURI.Clone())
	for _, h := range t.req.Headers {
		switch h.Kind() {
		case message.KindVia:
			ack.AddHeader(h.Clone())
		case message.KindFrom:
			ack.AddHeader(h.Clone())
		case message.KindCallID:
			ack.AddHeader(h.Clone())
		case message.KindMaxForwards:
			ack.AddHeader(h.Clone())
		}
	}
	if to := resp.To(); to != nil {
		ack.AddHeader(to.Clone())
	}
	if cseq := t.req.CSeq(); cseq != nil {
		ack.AddHeader(&message.CSeqHeader{Seq: cseq.Seq, Method: string(message.MethodAck)})
	}
	for _, h := range t.req.HeaderAll(message.KindRoute) {
		ack.AddHeader(h.Clone())
	}
	_ = t.send(ack)
}

func (t *ICT) onEnterCompleted() {
	if t.timerA != nil {
		t.timerA.Cancel()
	}
	if t.timerB != nil {
		t.timerB.Cancel()
	}
	d := t.timers.TimerD(t.reliable)
	t.timerD = t.heap.Schedule(d, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		_ = t.fsm.Event(context.Background(), "timerd")
	})
}

func (t *ICT) onEnterTerminated() {
	if t.timerA != nil {
		t.timerA.Cancel()
	}
	if t.timerB != nil {
		t.timerB.Cancel()
	}
	if t.timerD != nil {
		t.timerD.Cancel()
	}
	if t.onDone != nil {
		t.onDone(t.key)
	}
}

// State reports the current FSM state name.
func (t *ICT) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fsm.Current()
}

// Key returns the transaction's matching key.
func (t *ICT) Key() Key { return t.key }

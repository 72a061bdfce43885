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

// NICT is the RFC 3261 §17.1.2 non-INVITE client transaction: Trying,
// Proceeding, Completed, Terminated.
type NICT struct {
	mu  sync.Mutex
	fsm *fsm.FSM
	key Key
	req *message.Message

	timers   Timers
	reliable bool
	heap     *timerheap.Heap
	send     TransportSend
	onFinal  TUCallback
	onDone   func(key Key)
	log      logging.Logger

	timerE    *timerheap.Entry
	timerF    *timerheap.Entry
	timerK    *timerheap.Entry
	intervalE time.Duration
}

// NewNICT creates and arms a NICT for req.
func NewNICT(req *message.Message, reliable bool, timers Timers, heap *timerheap.Heap, send TransportSend, onFinal TUCallback, onDone func(Key), log logging.Logger) *NICT {
	if log == nil {
		log = logging.Noop()
	}
	t := &NICT{
		key: KeyForMessage(req, RoleClient), req: req,
		timers: timers, reliable: reliable, heap: heap, send: send,
		onFinal: onFinal, onDone: onDone, log: log,
		intervalE: timers.T1,
	}
	t.fsm = fsm.NewFSM(
		"trying",
		fsm.Events{
			{Name: "recv1xx", Src: []string{"trying", "proceeding"}, Dst: "proceeding"},
			{Name: "recvfinal", Src: []string{"trying", "proceeding"}, Dst: "completed"},
			{Name: "timerk", Src: []string{"completed"}, Dst: "terminated"},
			{Name: "timeout", Src: []string{"trying", "proceeding"}, Dst: "terminated"},
			{Name: "transporterr", Src: []string{"trying", "proceeding", "completed"}, Dst: "terminated"},
		},
		fsm.Callbacks{
			"enter_completed":  func(_ context.Context, e *fsm.Event) { t.onEnterCompleted() },
			"enter_terminated": func(_ context.Context, e *fsm.Event) { t.onEnterTerminated() },
		},
	)

	if err := send(req); err != nil {
		t.mu.Lock()
		t.fsm.Event(context.Background(), "transporterr")
		t.mu.Unlock()
		return t
	}
	if !reliable {
		t.scheduleTimerE(timers.T2, timers.T4)
	}
	t.timerF = heap.Schedule(timers.TimerF(), func() { t.onTimeout() })
	return t
}

func (t *NICT) scheduleTimerE(t2, t4 time.Duration) {
	t.timerE = t.heap.Schedule(t.intervalE, func() { t.onTimerE(t2, t4) })
}

func (t *NICT) onTimerE(t2, t4 time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.fsm.Current()
	if cur != "trying" && cur != "proceeding" {
		return
	}
	if err := t.send(t.req); err != nil {
		t.fsm.Event(context.Background(), "transporterr")
		return
	}
	if cur == "trying" {
		t.intervalE *= 2
		if t.intervalE > t2 {
			t.intervalE = t2
		}
	} else {
		t.intervalE = t4
	}
	t.scheduleTimerE(t2, t4)
}

func (t *NICT) onTimeout() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.fsm.Event(context.Background(), "timeout")
}

// Receive delivers an incoming response matched to this transaction.
func (t *NICT) Receive(resp *message.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	code := resp.StartLine.StatusCode
	cur := t.fsm.Current()
	if cur != "trying" && cur != "proceeding" {
		return
	}
	if code < 200 {
		if err := t.fsm.Event(context.Background(), "recv1xx"); err == nil && t.onFinal != nil {
			t.onFinal(resp)
		}
		return
	}
	if err := t.fsm.Event(context.Background(), "recvfinal"); err == nil && t.onFinal != nil {
		t.onFinal(resp)
	}
}

func (t *NICT) onEnterCompleted() {
	if t.timerE != nil {
		t.timerE.Cancel()
	}
	if t.timerF != nil {
		t.timerF.Cancel()
	}
	k := t.timers.TimerK(t.reliable)
	t.timerK = t.heap.Schedule(k, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		_ = t.fsm.Event(context.Background(), "timerk")
	})
}

func (t *NICT) onEnterTerminated() {
	if t.timerE != nil {
		t.timerE.Cancel()
	}
	if t.timerF != nil {
		t.timerF.Cancel()
	}
	if t.timerK != nil {
		t.timerK.Cancel()
	}
	if t.onDone != nil {
		t.onDone(t.key)
	}
}

// State reports the current FSM state name.
func (t *NICT) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fsm.Current()
}

func (t *NICT) Key() Key { return t.key }

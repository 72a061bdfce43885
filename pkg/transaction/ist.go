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

// IST is the RFC 3261 §17.2.1 INVITE server transaction: Proceeding,
// Completed, Confirmed, Terminated (the RFC 6026 Accepted state is not
// modeled).
type IST struct {
	mu  sync.Mutex
	fsm *fsm.FSM
	key Key
	req *message.Message

	timers   Timers
	reliable bool
	heap     *timerheap.Heap
	send     TransportSend
	onAck    func(ack *message.Message)
	onDone   func(key Key)
	log      logging.Logger

	lastResponse *message.Message
	timerG       *timerheap.Entry
	timerH       *timerheap.Entry
	timerI       *timerheap.Entry
	intervalG    time.Duration
}

// NewIST creates a server transaction in Proceeding for an incoming
// INVITE req. The caller is expected to immediately send a 100 Trying
// (or any provisional) via Respond, matching RFC 3261 §17.2.1's
// "SHOULD" for unreliable transports.
func NewIST(req *message.Message, reliable bool, timers Timers, heap *timerheap.Heap, send TransportSend, onAck func(*message.Message), onDone func(Key), log logging.Logger) *IST {
	if log == nil {
		log = logging.Noop()
	}
	t := &IST{
		key: KeyForMessage(req, RoleServer), req: req,
		timers: timers, reliable: reliable, heap: heap, send: send,
		onAck: onAck, onDone: onDone, log: log,
		intervalG: timers.T1,
	}
	t.fsm = fsm.NewFSM(
		"proceeding",
		fsm.Events{
			{Name: "respond1xx", Src: []string{"proceeding"}, Dst: "proceeding"},
			{Name: "respond2xx", Src: []string{"proceeding"}, Dst: "terminated"},
			{Name: "respondfinal", Src: []string{"proceeding"}, Dst: "completed"},
			{Name: "recvack", Src: []string{"completed"}, Dst: "confirmed"},
			{Name: "timerg", Src: []string{"completed"}, Dst: "completed"},
			{Name: "timerh", Src: []string{"completed"}, Dst: "terminated"},
			{Name: "timeri", Src: []string{"confirmed"}, Dst: "terminated"},
		},
		fsm.Callbacks{
			"enter_completed":  func(_ context.Context, e *fsm.Event) { t.onEnterCompleted() },
			"enter_confirmed":  func(_ context.Context, e *fsm.Event) { t.onEnterConfirmed() },
			"enter_terminated": func(_ context.Context, e *fsm.Event) { t.onEnterTerminated() },
		},
	)
	return t
}

// Respond sends resp as this transaction's response to the INVITE.
func (t *IST) Respond(resp *message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	code := resp.StartLine.StatusCode
	cur := t.fsm.Current()
	if cur != "proceeding" {
		return errBadState("transaction.IST.Respond", cur)
	}
	if err := t.send(resp); err != nil {
		return err
	}
	t.lastResponse = resp
	switch {
	case code < 200:
		return t.fsm.Event(context.Background(), "respond1xx")
	case code < 300:
		return t.fsm.Event(context.Background(), "respond2xx")
	default:
		return t.fsm.Event(context.Background(), "respondfinal")
	}
}

// ReceiveRetransmit handles a retransmitted INVITE (Proceeding:
// re-send the last provisional if any; Completed: re-send the final
// response per RFC 3261 §17.2.1).
func (t *IST) ReceiveRetransmit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastResponse != nil {
		_ = t.send(t.lastResponse)
	}
}

// ReceiveACK handles an in-dialog ACK matched to this transaction.
func (t *IST) ReceiveACK(ack *message.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fsm.Current() != "completed" {
		return
	}
	_ = t.fsm.Event(context.Background(), "recvack")
	if t.onAck != nil {
		t.onAck(ack)
	}
}

func (t *IST) onEnterCompleted() {
	if t.reliable {
		t.timerH = t.heap.Schedule(t.timers.TimerH(), func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			_ = t.fsm.Event(context.Background(), "timerh")
		})
		return
	}
	t.scheduleTimerG()
	t.timerH = t.heap.Schedule(t.timers.TimerH(), func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		_ = t.fsm.Event(context.Background(), "timerh")
	})
}

func (t *IST) scheduleTimerG() {
	t.timerG = t.heap.Schedule(t.intervalG, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.fsm.Current() != "completed" {
			return
		}
		if t.lastResponse != nil {
			_ = t.send(t.lastResponse)
		}
		t.intervalG *= 2
		if t.intervalG > t.timers.T2 {
			t.intervalG = t.timers.T2
		}
		t.scheduleTimerG()
	})
}

func (t *IST) onEnterConfirmed() {
	if t.timerG != nil {
		t.timerG.Cancel()
	}
	if t.timerH != nil {
		t.timerH.Cancel()
	}
	i := t.timers.TimerI(t.reliable)
	t.timerI = t.heap.Schedule(i, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		_ = t.fsm.Event(context.Background(), "timeri")
	})
}

func (t *IST) onEnterTerminated() {
	if t.timerG != nil {
		t.timerG.Cancel()
	}
	if t.timerH != nil {
		t.timerH.Cancel()
	}
	if t.timerI != nil {
		t.timerI.Cancel()
	}
	if t.onDone != nil {
		t.onDone(t.key)
	}
}

// State reports the current FSM state name.
func (t *IST) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fsm.Current()
}

func (t *IST) Key() Key { return t.key }

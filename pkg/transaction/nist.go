package transaction

import (
	"context"
	"sync"

	"github.com/looplab/fsm"

	"github.com/arzzra/sipturn/internal/logging"
	"github.com/arzzra/sipturn/internal/timerheap"
	"github.com/arzzra/sipturn/pkg/message"
)

// NIST is the RFC 3261 §17.2.2 non-INVITE server transaction: Trying,
// Proceeding, Completed, Terminated.
type NIST struct {
	mu  sync.Mutex
	fsm *fsm.FSM
	key Key
	req *message.Message

	timers   Timers
	reliable bool
	heap     *timerheap.Heap
	send     TransportSend
	onDone   func(key Key)
	log      logging.Logger

	lastResponse *message.Message
	timerJ       *timerheap.Entry
}

// NewNIST creates a server transaction in Trying for an incoming
// non-INVITE request.
func NewNIST(req *message.Message, reliable bool, timers Timers, heap *timerheap.Heap, send TransportSend, onDone func(Key), log logging.Logger) *NIST {
	if log == nil {
		log = logging.Noop()
	}
	t := &NIST{
		key: KeyForMessage(req, RoleServer), req: req,
		timers: timers, reliable: reliable, heap: heap, send: send,
		onDone: onDone, log: log,
	}
	t.fsm = fsm.NewFSM(
		"trying",
		fsm.Events{
			{Name: "respond1xx", Src: []string{"trying", "proceeding"}, Dst: "proceeding"},
			{Name: "respondfinal", Src: []string{"trying", "proceeding"}, Dst: "completed"},
			{Name: "timerj", Src: []string{"completed"}, Dst: "terminated"},
		},
		fsm.Callbacks{
			"enter_completed": func(_ context.Context, e *fsm.Event) { t.onEnterCompleted() },
		},
	)
	return t
}

// Respond sends resp as this transaction's response.
func (t *NIST) Respond(resp *message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.fsm.Current()
	if cur != "trying" && cur != "proceeding" {
		return errBadState("transaction.NIST.Respond", cur)
	}
	if err := t.send(resp); err != nil {
		return err
	}
	t.lastResponse = resp
	if resp.StartLine.StatusCode < 200 {
		return t.fsm.Event(context.Background(), "respond1xx")
	}
	return t.fsm.Event(context.Background(), "respondfinal")
}

// ReceiveRetransmit re-sends the last response on a retransmitted
// request, per RFC 3261 §17.2.2.
func (t *NIST) ReceiveRetransmit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastResponse != nil {
		_ = t.send(t.lastResponse)
	}
}

func (t *NIST) onEnterCompleted() {
	j := t.timers.TimerJ(t.reliable)
	t.timerJ = t.heap.Schedule(j, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.terminate()
	})
}

func (t *NIST) terminate() {
	_ = t.fsm.Event(context.Background(), "timerj")
	if t.onDone != nil {
		t.onDone(t.key)
	}
}

// State reports the current FSM state name.
func (t *NIST) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fsm.Current()
}

func (t *NIST) Key() Key { return t.key }

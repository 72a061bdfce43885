package transaction

import (
	"sync"
	"testing"
	"time"

	"github.com/arzzra/sipturn/internal/timerheap"
	"github.com/arzzra/sipturn/pkg/message"
)

// TestICTCancelRaceTerminatesOn487 is spec.md §8 scenario 5: a CANCEL
// sent while the INVITE client transaction is still in
// Calling/Proceeding races the UAS's own 2xx — here we exercise the
// side RFC 3261 fully specifies (the UAS accepts the CANCEL and
// replies 487 to the original INVITE before any 2xx was sent): the
// ICT must move Calling/Proceeding -> Completed on the 487, ACK it,
// and eventually reach Terminated via Timer D. The 2xx-after-CANCEL
// race itself is left as an open question (DESIGN.md).
func TestICTCancelRaceTerminatesOn487(t *testing.T) {
	heap := timerheap.New()
	go heap.Run()
	defer heap.Stop()

	var mu sync.Mutex
	var acks int
	send := func(msg *message.Message) error {
		mu.Lock()
		defer mu.Unlock()
		if msg.IsRequest && msg.StartLine.Method == message.MethodAck {
			acks++
		}
		return nil
	}

	var final *message.Message
	onFinal := func(resp *message.Message) { final = resp }

	req := newTestRequest(t, message.MethodInvite)
	ict := NewICT(req, true, fastTimers(), heap, send, onFinal, nil, nil)

	if got := ict.State(); got != "calling" {
		t.Fatalf("expected calling immediately after send, got %s", got)
	}

	// A 1xx arrives first (the race: CANCEL crossed a provisional).
	prov := message.NewResponse(180, "Ringing")
	ict.Receive(prov)
	if got := ict.State(); got != "proceeding" {
		t.Fatalf("expected proceeding after 1xx, got %s", got)
	}

	// The UAS accepted the CANCEL and rejects the INVITE with 487.
	reject := message.NewResponse(487, "Request Terminated")
	ict.Receive(reject)

	if got := ict.State(); got != "completed" {
		t.Fatalf("expected completed after 487, got %s", got)
	}
	if final == nil || final.StartLine.StatusCode != 487 {
		t.Fatalf("expected TU to be notified of the 487, got %v", final)
	}

	mu.Lock()
	n := acks
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly one ACK for the 487, got %d", n)
	}

	// A retransmitted 487 (reliable transport here, but UAS retransmit
	// policy is its own business) re-ACKs without re-notifying the TU.
	final = nil
	ict.Receive(reject)
	mu.Lock()
	n = acks
	mu.Unlock()
	if n != 2 {
		t.Fatalf("expected the retransmitted 487 to be re-ACKed, got %d acks", n)
	}
	if final != nil {
		t.Fatalf("retransmitted final response must not re-notify the TU")
	}

	// Timer D eventually fires (on a reliable transport
	// TimerD(reliable=true) is 0, firing on the very next heap tick).
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if ict.State() == "terminated" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected ICT to reach terminated via Timer D, stuck in %s", ict.State())
}

// Package transaction implements the four RFC 3261 transaction state
// machines (C5): INVITE client (ICT), INVITE server (IST), non-INVITE
// client (NICT), non-INVITE server (NIST). Each is driven by
// github.com/looplab/fsm the way the teacher's pkg/dialog.Dialog
// drives its own state machine (pkg/dialog/dialog.go's initFSM), with
// timers scheduled on a shared internal/timerheap.Heap instead of a
// one-goroutine-per-timer time.AfterFunc, so a transaction with many
// in-flight timers costs one heap entry each rather than one OS timer
// each.
package transaction

import (
	"time"

	"github.com/arzzra/sipturn/internal/idgen"
	"github.com/arzzra/sipturn/pkg/message"
)

// Timers holds the RFC 3261 §17 timer family. T1/T2/T4 are the base
// intervals every other timer (A-K) is derived from.
type Timers struct {
	T1 time.Duration
	T2 time.Duration
	T4 time.Duration
}

// DefaultTimers returns the RFC 3261 §17.1.1.1 defaults.
func DefaultTimers() Timers {
	return Timers{T1: 500 * time.Millisecond, T2: 4 * time.Second, T4: 5 * time.Second}
}

// TimerB is the overall ICT transaction timeout (64*T1).
func (t Timers) TimerB() time.Duration { return 64 * t.T1 }

// TimerD is the ICT Completed-state wait, at least 32s for
// unreliable transports (0 for reliable ones).
func (t Timers) TimerD(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return 32 * time.Second
}

// TimerF is the overall NICT transaction timeout (64*T1).
func (t Timers) TimerF() time.Duration { return 64 * t.T1 }

// TimerK is the NICT Completed-state wait (T4, or 0 for reliable).
func (t Timers) TimerK(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return t.T4
}

// TimerH is the IST wait for ACK in Completed (64*T1).
func (t Timers) TimerH() time.Duration { return 64 * t.T1 }

// TimerI is the IST Confirmed-state wait (T4, or 0 for reliable).
func (t Timers) TimerI(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return t.T4
}

// TimerJ is the NIST Completed-state wait (64*T1, or 0 for reliable).
func (t Timers) TimerJ(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return 64 * t.T1
}

// Role distinguishes client vs server transactions.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Key identifies a transaction per RFC 3261 §17.1.3/§17.2.3: branch +
// method (an ACK takes the INVITE's method, so it matches the INVITE
// transaction it acknowledges; a CANCEL keeps its own method and so
// has a transaction of its own) + role, so a client and
// server transaction sharing a branch (impossible on the wire, but
// convenient as a map key) never collide.
type Key struct {
	Branch string
	Method message.Method
	Role   Role
}

func cseqMatchMethod(m message.Method) message.Method {
	if m == message.MethodAck {
		return message.MethodInvite
	}
	return m
}

// KeyForMessage derives the matching Key for an incoming or outgoing
// message from its Via branch and CSeq method (spec.md §5.3's
// loop/merged-request detection also starts from this same key).
func KeyForMessage(m *message.Message, role Role) Key {
	via := m.Via()
	branch := ""
	if via != nil {
		branch = via.Branch
	}
	method := m.StartLine.Method
	if !m.IsRequest {
		if cseq := m.CSeq(); cseq != nil {
			method = message.Method(cseq.Method)
		}
	}
	return Key{Branch: branch, Method: cseqMatchMethod(method), Role: role}
}

// NewBranch generates a new RFC 3261 magic-cookie-prefixed branch,
// following the teacher's idgen-backed entropy sources.
func NewBranch() string { return idgen.Branch() }

// TransportSend abstracts the one operation a transaction needs from
// the transport layer: fire-and-forget send of a message. It takes no
// destination; the function the caller supplies chooses it.
type TransportSend func(msg *message.Message) error

// TUCallback delivers a transaction-layer event up to the Transaction
// User (the dialog layer, or a stateless caller).
type TUCallback func(msg *message.Message)

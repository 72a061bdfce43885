// Package dialog implements the dialog layer (C6): RFC 3261 §12
// dialog state, in-dialog request minting, 2xx/ACK synthesis with a
// reversed route set, digest authentication retry, and re-INVITE
// glare handling. It follows the shape of the teacher's pkg/dialog
// package (github.com/looplab/fsm-driven Dialog.initFSM, per-dialog
// group-lock-style destroy bookkeeping) generalized onto
// pkg/message/pkg/transaction instead of sipgo.
package dialog

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/looplab/fsm"

	"github.com/arzzra/sipturn/internal/grouplock"
	"github.com/arzzra/sipturn/internal/idgen"
	"github.com/arzzra/sipturn/internal/logging"
	"github.com/arzzra/sipturn/pkg/message"
	"github.com/arzzra/sipturn/pkg/transaction"
)

// State mirrors spec.md §4.6's dialog state machine.
type State string

const (
	StateNull        State = "null"
	StateIncoming    State = "incoming"
	StateCalling     State = "calling"
	StateProceeding  State = "proceeding"
	StateConnecting  State = "connecting"
	StateEstablished State = "established"
	StateDisconnected State = "disconnected"
	StateTerminated  State = "terminated"
)

// Role distinguishes the dialog-initiating (UAC) side from the
// dialog-receiving (UAS) side, which decide which tag is "local" vs
// "remote" when minting the next in-dialog request.
type Role int

const (
	RoleUAC Role = iota
	RoleUAS
)

// Dialog is one RFC 3261 §12 dialog: a Call-ID, a local/remote tag
// pair, a local/remote CSeq counter, a target URI, and a route set,
// wrapped in the group-lock destroy-safety idiom spec.md §5 requires
// for re-entrant transaction callbacks.
type Dialog struct {
	lock *grouplock.Lock
	mu   sync.Mutex
	fsm  *fsm.FSM

	Role   Role
	CallID string

	LocalURI   *message.URI
	RemoteURI  *message.URI
	LocalTag   string
	RemoteTag  string

	localCSeq  atomic.Uint32
	remoteCSeq uint32

	localTarget  *message.URI // our Contact
	remoteTarget *message.URI // their Contact

	// RouteSet is stored in the order used on outgoing requests: for
	// a UAC this is the Record-Route set as received (already
	// reversed relative to how it appeared on the 2xx); for a UAS it
	// is the Record-Route set as received on the request, reversed.
	RouteSet []message.Header

	log logging.Logger

	stateChangeCallbacks []func(State)

	pendingTsx atomic.Int32
	reinvite   reinviteTracker
}

// NewUACDialog creates a dialog initiating side from the INVITE about
// to be sent: assigns the local tag and Call-ID if req doesn't already
// carry them.
func NewUACDialog(req *message.Message, log logging.Logger) *Dialog {
	if log == nil {
		log = logging.Noop()
	}
	d := &Dialog{
		lock: grouplock.New(),
		Role: RoleUAC,
		log:  log,
	}
	if from := req.From(); from != nil {
		if from.Tag == "" {
			from.Tag = idgen.Tag()
		}
		d.LocalTag = from.Tag
		d.LocalURI = from.Addr.URI.Clone()
	}
	if to := req.To(); to != nil {
		d.RemoteURI = to.Addr.URI.Clone()
	}
	if h := req.Header(message.KindCallID); h != nil {
		if h.Value() == "" {
			req.RemoveHeader(message.KindCallID)
			req.AddHeader(&message.CallIDHeader{Value_: idgen.CallID()})
		}
	} else {
		req.AddHeader(&message.CallIDHeader{Value_: idgen.CallID()})
	}
	d.CallID = req.CallID()
	if cseq := req.CSeq(); cseq != nil {
		d.localCSeq.Store(cseq.Seq)
	}
	if contact := req.Header(message.KindContact); contact != nil {
		d.localTarget = contact.(*message.ContactHeader).Addr.URI.Clone()
	}
	d.initFSM()
	return d
}

// NewUASDialog creates a dialog receiving side from an incoming
// INVITE, assigning our local (To) tag.
func NewUASDialog(req *message.Message, log logging.Logger) *Dialog {
	if log == nil {
		log = logging.Noop()
	}
	d := &Dialog{
		lock: grouplock.New(),
		Role: RoleUAS,
		log:  log,
	}
	d.CallID = req.CallID()
	if from := req.From(); from != nil {
		d.RemoteTag = from.Tag
		d.RemoteURI = from.Addr.URI.Clone()
	}
	if to := req.To(); to != nil {
		d.LocalURI = to.Addr.URI.Clone()
	}
	d.LocalTag = idgen.Tag()
	if cseq := req.CSeq(); cseq != nil {
		d.remoteCSeq = cseq.Seq
	}
	if contact := req.Header(message.KindContact); contact != nil {
		d.remoteTarget = contact.(*message.ContactHeader).Addr.URI.Clone()
	}
	for _, h := range req.HeaderAll(message.KindRecordRoute) {
		d.RouteSet = append(d.RouteSet, h.Clone())
	}
	reverseHeaders(d.RouteSet)
	d.initFSM()
	return d
}

func reverseHeaders(hs []message.Header) {
	for i, j := 0, len(hs)-1; i < j; i, j = i+1, j-1 {
		hs[i], hs[j] = hs[j], hs[i]
	}
}

func (d *Dialog) initFSM() {
	d.fsm = fsm.NewFSM(
		string(StateNull),
		fsm.Events{
			{Name: "invite", Src: []string{string(StateNull)}, Dst: string(StateCalling)},
			{Name: "incoming", Src: []string{string(StateNull)}, Dst: string(StateIncoming)},
			{Name: "provisional", Src: []string{string(StateCalling), string(StateProceeding)}, Dst: string(StateProceeding)},
			{Name: "accept2xx", Src: []string{string(StateCalling), string(StateProceeding), string(StateIncoming)}, Dst: string(StateConnecting)},
			{Name: "ackSent", Src: []string{string(StateConnecting)}, Dst: string(StateEstablished)},
			{Name: "ackRecv", Src: []string{string(StateConnecting)}, Dst: string(StateEstablished)},
			{Name: "rejected", Src: []string{string(StateCalling), string(StateProceeding), string(StateIncoming)}, Dst: string(StateTerminated)},
			{Name: "byeSent", Src: []string{string(StateEstablished)}, Dst: string(StateDisconnected)},
			{Name: "byeRecv", Src: []string{string(StateEstablished)}, Dst: string(StateDisconnected)},
			{Name: "closed", Src: []string{string(StateDisconnected)}, Dst: string(StateTerminated)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				d.notifyState(State(e.Dst))
			},
		},
	)
}

func (d *Dialog) notifyState(s State) {
	d.mu.Lock()
	cbs := append([]func(State){}, d.stateChangeCallbacks...)
	d.mu.Unlock()
	for _, cb := range cbs {
		cb(s)
	}
}

// OnStateChange registers a callback invoked after every state
// transition.
func (d *Dialog) OnStateChange(cb func(State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stateChangeCallbacks = append(d.stateChangeCallbacks, cb)
}

// State returns the dialog's current state.
func (d *Dialog) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State(d.fsm.Current())
}

func (d *Dialog) fire(event string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fsm.Event(context.Background(), event)
}

// Target returns the URI an in-dialog request should be sent to: the
// remote target (Contact) refreshed by the most recent request/
// response, per RFC 3261 §12.2.1.1/§12.2.2.
func (d *Dialog) Target() *message.URI {
	return d.remoteTarget
}

// NewRequest mints an in-dialog request per RFC 3261 §12.2.1.1: bumps
// the local CSeq, reuses From/To/Call-ID with our established tags,
// and lays down the stored route set as Route headers.
func (d *Dialog) NewRequest(method message.Method) *message.Message {
	seq := d.localCSeq.Add(1)
	target := d.Target()
	if target == nil {
		target = d.RemoteURI
	}
	req := message.NewRequest(method, target.Clone())

	req.AddHeader(message.NewFrom(message.Addr{URI: d.LocalURI.Clone(), Quoted: true}, d.LocalTag))
	req.AddHeader(message.NewTo(message.Addr{URI: d.RemoteURI.Clone(), Quoted: true}, d.RemoteTag))
	req.AddHeader(&message.CallIDHeader{Value_: d.CallID})
	req.AddHeader(&message.CSeqHeader{Seq: seq, Method: string(method)})
	req.AddHeader(&message.ViaHeader{Transport: "UDP", Host: "0.0.0.0", Branch: transaction.NewBranch()})
	req.AddHeader(message.NewMaxForwards(70))
	for _, h := range d.RouteSet {
		req.AddHeader(h.Clone())
	}
	d.pendingTsx.Add(1)
	return req
}

// AddRef/Release delegate to the group-lock so callback-holding code
// (transaction completions racing a BYE) can keep the dialog alive
// until every in-flight reference drops, per spec.md §5.
func (d *Dialog) AddRef()  { d.lock.AddRef() }
func (d *Dialog) Release() { d.lock.Release() }

func (d *Dialog) completeTsx() { d.pendingTsx.Add(-1) }

// GlareRetryAfter returns a random 0-10s Retry-After value for the
// 491 Request Pending response RFC 3261 §14.1 mandates on glare.
func GlareRetryAfter() int {
	return rand.Intn(11)
}

package dialog

import (
	"sync"

	"github.com/arzzra/sipturn/internal/logging"
	"github.com/arzzra/sipturn/pkg/message"
	"github.com/arzzra/sipturn/pkg/transaction"
)

// serverResponder is the slice of a server transaction's API the
// dialog layer needs (Respond); kept as an anonymous interface so this
// package never has to name transaction's unexported serverTx type.
type serverResponder interface {
	Respond(resp *message.Message) error
}

// Manager owns the live dialog set and the transaction.Manager that
// backs it: a Call-ID-indexed dialog collection guarded by one mutex,
// generalized from the teacher's sipgo-based dialog manager onto
// pkg/transaction.
type Manager struct {
	mu       sync.Mutex
	dialogs  map[string]*Dialog // Call-ID -> dialog
	serverTx map[string]serverResponder

	txMgr       *transaction.Manager
	send        transaction.TransportSend
	reliableFor func(req *message.Message) bool
	log         logging.Logger
}

// NewManager wires a dialog Manager against txMgr/send. reliableFor
// reports whether req will travel over a reliable transport — the
// caller (typically the endpoint, consulting its transport manager's
// PreferredTransport for req's Request-URI) is the only party that
// knows which transport a given request actually takes, the same way
// transaction.Manager's own NewClientTransaction/NewServerTransaction
// callers already decide reliable per call rather than once globally.
func NewManager(txMgr *transaction.Manager, send transaction.TransportSend, reliableFor func(req *message.Message) bool, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Noop()
	}
	if reliableFor == nil {
		reliableFor = func(*message.Message) bool { return false }
	}
	return &Manager{
		dialogs:     make(map[string]*Dialog),
		serverTx:    make(map[string]serverResponder),
		txMgr:       txMgr,
		send:        send,
		reliableFor: reliableFor,
		log:         log,
	}
}

// Lookup finds the dialog for a given Call-ID, if any.
func (m *Manager) Lookup(callID string) (*Dialog, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dialogs[callID]
	return d, ok
}

// StartInvite begins a UAC dialog for an outgoing INVITE: it assigns
// the dialog identity onto req (Call-ID, From tag), registers the
// dialog, fires it into Calling, and starts the INVITE client
// transaction. respHandler is invoked for every provisional/final
// response the ICT delivers — the caller decides how to act on a 2xx
// (EstablishRouteSet/BuildACK); this method only drives the dialog FSM
// transition and bookkeeping common to every response.
func (m *Manager) StartInvite(req *message.Message, respHandler func(*Dialog, *message.Message)) (*Dialog, error) {
	d := NewUACDialog(req, m.log)
	if err := d.fire("invite"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.dialogs[d.CallID] = d
	m.mu.Unlock()

	onFinal := func(resp *message.Message) {
		code := resp.StartLine.StatusCode
		switch {
		case code < 200:
			_ = d.fire("provisional")
		case code < 300:
			_ = d.fire("accept2xx")
		default:
			_ = d.fire("rejected")
		}
		if respHandler != nil {
			respHandler(d, resp)
		}
	}

	if _, err := m.txMgr.NewClientTransaction(req, m.reliableFor(req), m.send, onFinal); err != nil {
		return nil, err
	}
	return d, nil
}

// HandleIncomingInvite begins a UAS dialog for an incoming INVITE,
// starting the INVITE server transaction so retransmissions are
// absorbed and the eventual ACK is routed back through the dialog FSM.
func (m *Manager) HandleIncomingInvite(req *message.Message) (*Dialog, error) {
	d := NewUASDialog(req, m.log)
	if err := d.fire("incoming"); err != nil {
		return nil, err
	}

	onAck := func(ack *message.Message) {
		_ = d.fire("ackRecv")
	}

	tx, err := m.txMgr.NewServerTransaction(req, m.reliableFor(req), m.send, onAck)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.dialogs[d.CallID] = d
	m.serverTx[d.CallID] = tx
	m.mu.Unlock()

	return d, nil
}

// Respond sends a provisional or final response on the server
// transaction backing d's incoming INVITE, advancing the dialog FSM
// for 1xx/2xx responses. A non-2xx final also moves the dialog to
// Terminated per RFC 3261 §12.1.1 (a rejected INVITE never has a
// dialog to tear down later).
func (m *Manager) Respond(d *Dialog, resp *message.Message) error {
	m.mu.Lock()
	tx, ok := m.serverTx[d.CallID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := tx.Respond(resp); err != nil {
		return err
	}
	code := resp.StartLine.StatusCode
	switch {
	case code < 200:
		return d.fire("provisional")
	case code < 300:
		return d.fire("accept2xx")
	}
	return d.fire("rejected")
}

// SendInDialogRequest mints the next in-dialog request via
// d.NewRequest and starts its client transaction (NICT, or ICT for a
// re-INVITE), returning the minted request so the caller can inspect
// or log it.
func (m *Manager) SendInDialogRequest(d *Dialog, method message.Method, onFinal transaction.TUCallback) (*message.Message, error) {
	req := d.NewRequest(method)
	wrapped := func(resp *message.Message) {
		d.completeTsx()
		if onFinal != nil {
			onFinal(resp)
		}
	}
	if _, err := m.txMgr.NewClientTransaction(req, m.reliableFor(req), m.send, wrapped); err != nil {
		return nil, err
	}
	return req, nil
}

// Terminate fires the dialog's closing transitions and drops it from
// the manager; it does not itself send a BYE, since the caller may be
// reacting to one it already received.
func (m *Manager) Terminate(d *Dialog, sentBye bool) error {
	event := "byeRecv"
	if sentBye {
		event = "byeSent"
	}
	if err := d.fire(event); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.dialogs, d.CallID)
	delete(m.serverTx, d.CallID)
	m.mu.Unlock()
	return d.fire("closed")
}

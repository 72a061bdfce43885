package transaction

import (
	"sync"

	"github.com/arzzra/sipturn/internal/logging"
	"github.com/arzzra/sipturn/internal/timerheap"
	"github.com/arzzra/sipturn/pkg/message"
	"github.com/arzzra/sipturn/pkg/status"
)

// clientTx and serverTx are the minimal interface Manager needs from
// either transaction flavor it owns (ICT/NICT, IST/NIST).
type clientTx interface {
	Receive(resp *message.Message)
	Key() Key
	State() string
}

type serverTx interface {
	Respond(resp *message.Message) error
	Key() Key
	State() string
}

// requestSignature is the dialog-independent identity RFC 3261 §8.2.2.2
// uses for loop and merged-request detection: same Call-ID/From-tag/
// CSeq but a different branch than the one already being processed.
type requestSignature struct {
	CallID  string
	FromTag string
	CSeq    uint32
	Method  message.Method
}

func signatureOf(req *message.Message) requestSignature {
	sig := requestSignature{CallID: req.CallID(), Method: req.StartLine.Method}
	if from := req.From(); from != nil {
		sig.FromTag = from.Tag
	}
	if cseq := req.CSeq(); cseq != nil {
		sig.CSeq = cseq.Seq
	}
	return sig
}

// Manager owns every live client and server transaction, keyed per
// RFC 3261 §17.1.3/§17.2.3, and supplies the loop/merged-request
// detection SPEC_FULL.md §13 adds on top of the base spec.
type Manager struct {
	mu        sync.Mutex
	clients   map[Key]clientTx
	servers   map[Key]serverTx
	sigToBranch map[requestSignature]string

	timers   Timers
	heap     *timerheap.Heap
	log      logging.Logger
	maxTsx   int // 0 means unbounded
}

func NewManager(timers Timers, heap *timerheap.Heap, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Noop()
	}
	return &Manager{
		clients:     make(map[Key]clientTx),
		servers:     make(map[Key]serverTx),
		sigToBranch: make(map[requestSignature]string),
		timers:      timers, heap: heap, log: log,
	}
}

// SetMaxTransactions bounds the combined client+server transaction
// table, per spec.md §6's max_tsx config option (default 33553).
// 0 leaves it unbounded.
func (m *Manager) SetMaxTransactions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxTsx = n
}

func (m *Manager) tableFull() bool {
	if m.maxTsx == 0 {
		return false
	}
	return len(m.clients)+len(m.servers) >= m.maxTsx
}

// NewClientTransaction starts the appropriate client FSM for req's
// method (ICT for INVITE, NICT otherwise) and registers it for
// response routing.
func (m *Manager) NewClientTransaction(req *message.Message, reliable bool, send TransportSend, onFinal TUCallback) (clientTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tableFull() {
		return nil, status.Newf(status.Resource, "", "transaction.Manager.NewClientTransaction", "transaction table full")
	}

	if req.StartLine.Method == message.MethodInvite {
		t := NewICT(req, reliable, m.timers, m.heap, send, onFinal, m.removeClient, m.log)
		m.clients[t.Key()] = t
		return t, nil
	}
	t := NewNICT(req, reliable, m.timers, m.heap, send, onFinal, m.removeClient, m.log)
	m.clients[t.Key()] = t
	return t, nil
}

// NewServerTransaction starts the appropriate server FSM for an
// incoming request, detecting loops/merged requests first.
func (m *Manager) NewServerTransaction(req *message.Message, reliable bool, send TransportSend, onAck func(*message.Message)) (serverTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := KeyForMessage(req, RoleServer)
	if existing, ok := m.servers[key]; ok {
		return existing, status.Newf(status.Protocol, "", "transaction.Manager.NewServerTransaction", "retransmission of existing transaction")
	}
	if m.tableFull() {
		return nil, status.Newf(status.Resource, "", "transaction.Manager.NewServerTransaction", "transaction table full")
	}

	if req.StartLine.Method != message.MethodAck && req.StartLine.Method != message.MethodCancel {
		sig := signatureOf(req)
		branch := ""
		if via := req.Via(); via != nil {
			branch = via.Branch
		}
		if prevBranch, seen := m.sigToBranch[sig]; seen && prevBranch != branch {
			return nil, status.Newf(status.Protocol, "", "transaction.Manager.NewServerTransaction", "merged or looped request detected")
		}
		m.sigToBranch[sig] = branch
	}

	if req.StartLine.Method == message.MethodInvite {
		t := NewIST(req, reliable, m.timers, m.heap, send, onAck, m.removeServer, m.log)
		m.servers[key] = t
		return t, nil
	}
	t := NewNIST(req, reliable, m.timers, m.heap, send, m.removeServer, m.log)
	m.servers[key] = t
	return t, nil
}

// LookupClient finds the client transaction a response matches.
func (m *Manager) LookupClient(resp *message.Message) (clientTx, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.clients[KeyForMessage(resp, RoleClient)]
	return t, ok
}

// LookupServer finds the server transaction a request (a retransmit,
// or the ACK for a non-2xx final response to an INVITE) matches.
func (m *Manager) LookupServer(req *message.Message) (serverTx, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.servers[KeyForMessage(req, RoleServer)]
	return t, ok
}

// HandleResponse routes resp to its client transaction, if any.
func (m *Manager) HandleResponse(resp *message.Message) bool {
	t, ok := m.LookupClient(resp)
	if !ok {
		return false
	}
	t.Receive(resp)
	return true
}

func (m *Manager) removeClient(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, key)
}

func (m *Manager) removeServer(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, key)
}

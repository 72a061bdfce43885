package turn

import (
	"context"
	"crypto/rand"
	"net"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/sipturn/internal/grouplock"
	"github.com/arzzra/sipturn/internal/logging"
	"github.com/arzzra/sipturn/internal/timerheap"
	"github.com/arzzra/sipturn/pkg/status"
)

// State mirrors spec.md §4.5's allocation FSM.
type State string

const (
	StateNull         State = "null"
	StateResolving    State = "resolving"
	StateResolved     State = "resolved"
	StateAllocating   State = "allocating"
	StateReady        State = "ready"
	StateDeallocating State = "deallocating"
	StateDestroying   State = "destroying"
)

// RetransmitSchedule is the RFC 5389 §7.2.1 request retransmission
// timing: initial RTO, doubling, a fixed retransmit count, and a
// final wait multiplier before giving up.
type RetransmitSchedule struct {
	InitialRTO time.Duration
	Rc         int // retransmit count
	Rm         int // final-wait multiplier
}

// DefaultRetransmitSchedule is RFC 5389's suggested values (500ms,
// doubling, 7 retransmits, final wait 16*RTO).
func DefaultRetransmitSchedule() RetransmitSchedule {
	return RetransmitSchedule{InitialRTO: 500 * time.Millisecond, Rc: 7, Rm: 16}
}

// Callbacks is the application surface spec.md §6 names for TURN.
type Callbacks struct {
	OnRxData           func(peer *net.UDPAddr, data []byte)
	OnState            func(old, new State)
	OnConnectionAttempt func(peer *net.UDPAddr) bool
	OnConnectionStatus func(peer *net.UDPAddr, err error)
}

// Session is the client-side RFC 5766 TURN allocation: the protocol
// FSM plus the channel/permission tables, independent of the concrete
// transport to the server (owned by Socket).
type Session struct {
	lock *grouplock.Lock
	mu   sync.Mutex
	fsm  *fsm.FSM

	ServerAddr string
	Username   string
	Realm      string
	Nonce      string
	Password   string

	RelayAddr *net.UDPAddr
	Lifetime  time.Duration
	expiry    time.Time

	perms    *PermissionTable
	channels *ChannelTable

	schedule RetransmitSchedule
	heap     *timerheap.Heap
	send     func(*Message) error
	cb       Callbacks
	log      logging.Logger

	refreshTimer *timerheap.Entry
	redirected   bool // one-shot ALTERNATE-SERVER guard, per spec.md §13

	pending map[TransactionID]*pendingRequest

	// onConnectionAttempt is wired by Socket for TCP-relay allocations
	// (RFC 6062): it opens and binds the new peer data connection.
	// Session itself never dials; it only decodes the indication and
	// hands the peer/connection-ID pair onward.
	onConnectionAttempt func(peer *net.UDPAddr, connID uint32)
}

// SetConnectionAttemptHandler wires the peer-TCP data-connection
// opener a Socket constructs once it knows this is a TCP-relay
// allocation.
func (s *Session) SetConnectionAttemptHandler(h func(peer *net.UDPAddr, connID uint32)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnectionAttempt = h
}

type pendingRequest struct {
	msg      *Message
	rto      time.Duration
	attempt  int
	timer    *timerheap.Entry
	onResult func(*Message, error)
}

// NewSession creates an allocation in state Null. send transmits an
// encoded STUN message to the TURN server via whatever transport
// Socket has set up; it is supplied by the socket layer so Session
// itself never touches net.Conn.
func NewSession(serverAddr, username, password string, schedule RetransmitSchedule, heap *timerheap.Heap, send func(*Message) error, cb Callbacks, log logging.Logger) *Session {
	if log == nil {
		log = logging.Noop()
	}
	s := &Session{
		lock:     grouplock.New(),
		ServerAddr: serverAddr,
		Username: username,
		Password: password,
		schedule: schedule,
		heap:     heap,
		send:     send,
		cb:       cb,
		log:      log,
		perms:    NewPermissionTable(),
		channels: NewChannelTable(),
		pending:  make(map[TransactionID]*pendingRequest),
	}
	s.initFSM()
	return s
}

func (s *Session) initFSM() {
	s.fsm = fsm.NewFSM(
		string(StateNull),
		fsm.Events{
			{Name: "resolve", Src: []string{string(StateNull)}, Dst: string(StateResolving)},
			{Name: "resolved", Src: []string{string(StateResolving)}, Dst: string(StateResolved)},
			{Name: "allocate", Src: []string{string(StateResolved)}, Dst: string(StateAllocating)},
			{Name: "allocated", Src: []string{string(StateAllocating)}, Dst: string(StateReady)},
			{Name: "redirect", Src: []string{string(StateAllocating)}, Dst: string(StateResolving)},
			{Name: "refresh", Src: []string{string(StateReady)}, Dst: string(StateAllocating)},
			{Name: "destroy", Src: []string{string(StateNull), string(StateResolving), string(StateResolved), string(StateAllocating), string(StateReady)}, Dst: string(StateDeallocating)},
			{Name: "destroyed", Src: []string{string(StateDeallocating)}, Dst: string(StateDestroying)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if s.cb.OnState != nil {
					s.cb.OnState(State(e.Src), State(e.Dst))
				}
			},
		},
	)
}

// State returns the allocation's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State(s.fsm.Current())
}

func (s *Session) fire(event string) error {
	return s.fsm.Event(context.Background(), event)
}

// newTxID generates a random 96-bit STUN transaction ID.
func newTxID() TransactionID {
	var id TransactionID
	_, _ = rand.Read(id[:])
	return id
}

// Allocate sends the Allocate request (RFC 5766 §6.1) and arms the
// RFC 5389 retransmission schedule. It must be called once. Called in
// state Null, it first passes through Resolving to Resolved, using
// ServerAddr as given (no DNS SRV lookup is made).
func (s *Session) Allocate(transport byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fsm.Current() == string(StateNull) {
		_ = s.fire("resolve")
		_ = s.fire("resolved")
	}
	if err := s.fire("allocate"); err != nil {
		return err
	}

	txID := newTxID()
	req := NewMessage(ClassRequest, MethodAllocate, txID)
	req.AddAttr(AttrRequestedTransport, []byte{transport, 0, 0, 0})
	s.addAuthAttrs(req)
	return s.sendRequest(req, s.handleAllocateResult)
}

// addAuthAttrs attaches USERNAME/REALM/NONCE once a 401 challenge has
// supplied them (RFC 5766 §6.1's long-term credential mechanism,
// shared with SIP digest auth per RFC 2617 — modeled here as opaque
// bytes since the MESSAGE-INTEGRITY HMAC itself is out of this
// session's testable surface).
func (s *Session) addAuthAttrs(req *Message) {
	if s.Username != "" {
		req.AddAttr(AttrUsername, []byte(s.Username))
	}
	if s.Realm != "" {
		req.AddAttr(AttrRealm, []byte(s.Realm))
	}
	if s.Nonce != "" {
		req.AddAttr(AttrNonce, []byte(s.Nonce))
	}
}

func (s *Session) sendRequest(req *Message, onResult func(*Message, error)) error {
	pr := &pendingRequest{msg: req, rto: s.schedule.InitialRTO, onResult: onResult}
	s.pending[req.TxID] = pr
	if err := s.send(req); err != nil {
		delete(s.pending, req.TxID)
		return err
	}
	pr.timer = s.heap.Schedule(pr.rto, func() { s.onRetransmitTimer(req.TxID) })
	return nil
}

func (s *Session) onRetransmitTimer(txID TransactionID) {
	s.mu.Lock()
	pr, ok := s.pending[txID]
	if !ok {
		s.mu.Unlock()
		return
	}
	pr.attempt++
	if pr.attempt > s.schedule.Rc {
		delete(s.pending, txID)
		s.mu.Unlock()
		pr.onResult(nil, status.New(status.Timeout, "turn.Session.retransmit"))
		return
	}
	if pr.attempt == s.schedule.Rc {
		pr.rto = time.Duration(s.schedule.Rm) * s.schedule.InitialRTO
	} else {
		pr.rto *= 2
	}
	_ = s.send(pr.msg)
	pr.timer = s.heap.Schedule(pr.rto, func() { s.onRetransmitTimer(txID) })
	s.mu.Unlock()
}

// HandleSTUNMessage delivers a decoded response/indication from the
// socket layer to the session, matching it against pending requests
// or routing unsolicited indications (Data, ConnectionAttempt).
func (s *Session) HandleSTUNMessage(msg *Message) {
	s.mu.Lock()
	if msg.Class == ClassIndication {
		s.mu.Unlock()
		s.handleIndication(msg)
		return
	}

	pr, ok := s.pending[msg.TxID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, msg.TxID)
	if pr.timer != nil {
		pr.timer.Cancel()
	}
	s.mu.Unlock()

	// err stays nil even for a STUN error-class response: resp.Class
	// carries the distinction, and handleAllocateResult/handleRefresh-
	// Result need to inspect ERROR-CODE/ALTERNATE-SERVER/NONCE on it,
	// not just fail fast. err is reserved for "no response at all"
	// (the Rc-exhausted retransmit timeout).
	pr.onResult(msg, nil)
}

func (s *Session) handleIndication(msg *Message) {
	switch msg.Method {
	case MethodData:
		peerVal, ok1 := msg.Attr(AttrXorPeerAddress)
		dataVal, ok2 := msg.Attr(AttrData)
		if !ok1 || !ok2 {
			return
		}
		peer, err := DecodeXorAddress(peerVal, msg.TxID)
		if err != nil || s.cb.OnRxData == nil {
			return
		}
		s.cb.OnRxData(peer, dataVal)
	case MethodConnectionAttempt:
		peerVal, ok := msg.Attr(AttrXorPeerAddress)
		connIDVal, ok2 := msg.Attr(AttrConnectionID)
		if !ok || !ok2 || len(connIDVal) < 4 {
			return
		}
		peer, err := DecodeXorAddress(peerVal, msg.TxID)
		if err != nil {
			return
		}
		if s.cb.OnConnectionAttempt != nil && !s.cb.OnConnectionAttempt(peer) {
			return
		}
		s.mu.Lock()
		handler := s.onConnectionAttempt
		s.mu.Unlock()
		if handler != nil {
			handler(peer, beUint32(connIDVal))
		}
	}
}

func (s *Session) handleAllocateResult(resp *Message, err error) {
	s.mu.Lock()
	if err != nil {
		_ = s.fire("destroy")
		s.mu.Unlock()
		return
	}

	if resp.Class == ClassError {
		if code, ok := errorCode(resp); ok && code/100 == 3 {
			if alt, ok := resp.Attr(AttrAlternateServer); ok && !s.redirected {
				s.redirected = true
				if addr, derr := DecodeXorAddress(alt, resp.TxID); derr == nil {
					s.ServerAddr = addr.String()
				}
				_ = s.fire("redirect")
				_ = s.fire("resolved")
				s.mu.Unlock()
				// Allocate re-locks s.mu itself; it must run outside this
				// call's lock to avoid a self-deadlock on the non-
				// reentrant mutex.
				_ = s.Allocate(byte(17)) // UDP=17 per RFC 5766 REQUESTED-TRANSPORT
				return
			}
			if nonce, ok := resp.Attr(AttrNonce); ok {
				s.Nonce = string(nonce)
			}
			if realm, ok := resp.Attr(AttrRealm); ok {
				s.Realm = string(realm)
			}
		}
		_ = s.fire("destroy")
		s.mu.Unlock()
		return
	}

	relayVal, ok1 := resp.Attr(AttrXorRelayedAddress)
	lifeVal, ok2 := resp.Attr(AttrLifetime)
	if !ok1 || !ok2 || len(lifeVal) != 4 {
		_ = s.fire("destroy")
		s.mu.Unlock()
		return
	}
	relay, derr := DecodeXorAddress(relayVal, resp.TxID)
	if derr != nil {
		_ = s.fire("destroy")
		s.mu.Unlock()
		return
	}
	s.RelayAddr = relay
	s.Lifetime = time.Duration(beUint32(lifeVal)) * time.Second
	s.expiry = time.Now().Add(s.Lifetime)
	_ = s.fire("allocated")
	s.scheduleRefresh()
	s.schedulePermissionSweep()
	s.scheduleChannelSweep()
	s.mu.Unlock()
}

// schedulePermissionSweep/scheduleChannelSweep arm the spec.md §4.5
// refresh cadences (permission every 4 of a 5-minute TTL, channel
// every 9 of a 10-minute TTL): each tick re-sends CreatePermission/
// ChannelBind for every live entry, and a failed refresh downgrades an
// entry to pending for one more try before it's dropped.
func (s *Session) schedulePermissionSweep() {
	s.heap.Schedule(permissionRefresh, s.onPermissionSweep)
}

func (s *Session) onPermissionSweep() {
	s.mu.Lock()
	if s.fsm.Current() != string(StateReady) {
		s.mu.Unlock()
		return
	}
	peers := s.perms.Peers()
	s.mu.Unlock()
	for _, p := range peers {
		addr, err := net.ResolveUDPAddr("udp", p+":0")
		if err != nil {
			continue
		}
		if err := s.CreatePermission(addr); err != nil {
			if s.perms.MarkPending(addr) {
				s.perms.Remove(addr)
			}
		}
	}
	s.mu.Lock()
	if s.fsm.Current() == string(StateReady) {
		s.schedulePermissionSweep()
	}
	s.mu.Unlock()
}

func (s *Session) scheduleChannelSweep() {
	s.heap.Schedule(channelRefresh, s.onChannelSweep)
}

func (s *Session) onChannelSweep() {
	s.mu.Lock()
	if s.fsm.Current() != string(StateReady) {
		s.mu.Unlock()
		return
	}
	numbers := s.channels.Numbers()
	s.mu.Unlock()
	for _, n := range numbers {
		peerStr, ok := s.channels.LookupByNumber(n)
		if !ok {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", peerStr)
		if err != nil {
			continue
		}
		txID := newTxID()
		req := NewMessage(ClassRequest, MethodChannelBind, txID)
		req.AddAttr(AttrChannelNumber, []byte{byte(n >> 8), byte(n), 0, 0})
		req.AddAttr(AttrXorPeerAddress, EncodeXorAddress(addr, txID))
		s.mu.Lock()
		s.addAuthAttrs(req)
		sendErr := s.sendRequest(req, func(resp *Message, rerr error) {
			if rerr != nil || resp.Class == ClassError {
				if s.channels.MarkPending(n) {
					s.channels.Remove(n)
				}
			}
		})
		s.mu.Unlock()
		if sendErr != nil {
			s.channels.Remove(n)
		}
	}
	s.mu.Lock()
	if s.fsm.Current() == string(StateReady) {
		s.scheduleChannelSweep()
	}
	s.mu.Unlock()
}

func (s *Session) scheduleRefresh() {
	if s.refreshTimer != nil {
		s.refreshTimer.Cancel()
	}
	s.refreshTimer = s.heap.Schedule(s.Lifetime/2, s.onRefreshDue)
}

func (s *Session) onRefreshDue() {
	s.mu.Lock()
	if s.fsm.Current() != string(StateReady) {
		s.mu.Unlock()
		return
	}
	if err := s.fire("refresh"); err != nil {
		s.mu.Unlock()
		return
	}
	txID := newTxID()
	req := NewMessage(ClassRequest, MethodRefresh, txID)
	req.AddAttr(AttrLifetime, beBytes32(uint32(s.Lifetime/time.Second)))
	s.addAuthAttrs(req)
	err := s.sendRequest(req, s.handleRefreshResult)
	s.mu.Unlock()
	if err != nil {
		s.handleRefreshResult(nil, err)
	}
}

func (s *Session) handleRefreshResult(resp *Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || resp.Class == ClassError {
		_ = s.fire("destroy")
		return
	}
	if lifeVal, ok := resp.Attr(AttrLifetime); ok && len(lifeVal) == 4 {
		s.Lifetime = time.Duration(beUint32(lifeVal)) * time.Second
		s.expiry = time.Now().Add(s.Lifetime)
	}
	_ = s.fire("allocated")
	s.scheduleRefresh()
}

// CreatePermission sends a CreatePermission request for peer (RFC 5766
// §9.1), installing the permission table entry once the 2xx arrives.
func (s *Session) CreatePermission(peer *net.UDPAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txID := newTxID()
	req := NewMessage(ClassRequest, MethodCreatePermission, txID)
	req.AddAttr(AttrXorPeerAddress, EncodeXorAddress(peer, txID))
	s.addAuthAttrs(req)
	return s.sendRequest(req, func(resp *Message, err error) {
		if err != nil || resp.Class == ClassError {
			if s.perms.MarkPending(peer) {
				s.perms.Remove(peer)
			}
			return
		}
		s.perms.Install(peer)
	})
}

// BindChannel sends a ChannelBind request (RFC 5766 §11.1) for a
// locally-allocated channel number bound to peer, registering the
// binding once the 2xx confirms it. ChannelBind implicitly refreshes
// the peer's permission too (RFC 5766 §11).
func (s *Session) BindChannel(peer *net.UDPAddr) (uint16, error) {
	s.mu.Lock()
	number, err := s.channels.Allocate(peer)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	txID := newTxID()
	req := NewMessage(ClassRequest, MethodChannelBind, txID)
	req.AddAttr(AttrChannelNumber, []byte{byte(number >> 8), byte(number), 0, 0})
	req.AddAttr(AttrXorPeerAddress, EncodeXorAddress(peer, txID))
	s.addAuthAttrs(req)
	sendErr := s.sendRequest(req, func(resp *Message, rerr error) {
		if rerr != nil || resp.Class == ClassError {
			s.channels.Remove(number)
			return
		}
		s.perms.Install(peer)
	})
	s.mu.Unlock()
	if sendErr != nil {
		s.mu.Lock()
		s.channels.Remove(number)
		s.mu.Unlock()
		return 0, sendErr
	}
	return number, nil
}

// SendTo transmits payload to peer per spec.md §4.5's data path: a
// ChannelData frame if a channel is already bound, otherwise a Send
// indication wrapping the peer address (RFC 5766 §10.1). pad controls
// whether a ChannelData frame is padded to a 4-byte boundary — the
// socket layer passes true on stream transports (TCP/TLS to the TURN
// server) and false on UDP, where RFC 5766 §11.4 says padding is
// absent.
func (s *Session) SendTo(peer *net.UDPAddr, payload []byte, pad bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if number, ok := s.channels.LookupByPeer(peer); ok {
		return EncodeChannelData(number, payload, pad), nil
	}
	if !s.perms.Has(peer) {
		return nil, status.Newf(status.Protocol, "", "turn.Session.SendTo", "no permission installed for peer")
	}
	txID := newTxID()
	ind := NewMessage(ClassIndication, MethodSend, txID)
	ind.AddAttr(AttrXorPeerAddress, EncodeXorAddress(peer, txID))
	ind.AddAttr(AttrData, payload)
	return ind.Encode(), nil
}

// Destroy tears the allocation down locally: it sends no
// Refresh(lifetime=0) to the server and moves unconditionally through
// Deallocating to Destroying, matching spec.md §4.5's "user destroy"
// edge.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.refreshTimer != nil {
		s.refreshTimer.Cancel()
	}
	_ = s.fire("destroy")
	s.mu.Unlock()
	s.lock.Release()
	s.mu.Lock()
	_ = s.fire("destroyed")
	s.mu.Unlock()
}

func errorCode(resp *Message) (int, bool) {
	val, ok := resp.Attr(AttrErrorCode)
	if !ok || len(val) < 4 {
		return 0, false
	}
	class := int(val[2] & 0x07)
	number := int(val[3])
	return class*100 + number, true
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beBytes32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

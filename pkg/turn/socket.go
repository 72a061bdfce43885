package turn

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"

	"github.com/arzzra/sipturn/internal/grouplock"
	"github.com/arzzra/sipturn/internal/logging"
	"github.com/arzzra/sipturn/internal/timerheap"
	"github.com/arzzra/sipturn/pkg/status"
)

// Transport selects the outbound connection kind to the TURN server,
// per spec.md §4.6 ("UDP/TCP/TLS").
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
	TransportTLS
)

// Socket bridges a Session to a concrete outbound connection to the
// TURN server, and — for peer-TCP allocations — the RFC 6062 data
// connection pool. It owns the group lock spec.md §5 requires of
// every long-lived core object, destroying on a 0-delay timer (rather
// than inline) so in-flight callbacks unwind first, per spec.md §4.6.
type Socket struct {
	lock *grouplock.Lock

	mu        sync.Mutex
	conn      net.Conn // nil for UDP, which uses udpConn instead
	udpConn   *net.UDPConn
	transport Transport
	stream    bool // true for TCP/TLS: ChannelData frames are padded

	session *Session
	pool    *DataConnPool

	heap *timerheap.Heap
	log  logging.Logger

	closed atomic.Bool
	readBuf []byte
}

// Dial opens the outbound connection to serverAddr and wires it to
// session, starting the read loop that demultiplexes STUN messages
// from ChannelData frames per RFC 5766 §11.4 / RFC 5764 §5.1.2.
// tlsCfg is only consulted for TransportTLS; pass nil otherwise.
func Dial(transport Transport, serverAddr string, tlsCfg *tls.Config, session *Session, heap *timerheap.Heap, log logging.Logger) (*Socket, error) {
	if log == nil {
		log = logging.Noop()
	}
	s := &Socket{
		lock:      grouplock.New(),
		transport: transport,
		stream:    transport != TransportUDP,
		session:   session,
		heap:      heap,
		log:       log,
		readBuf:   make([]byte, 64*1024),
	}

	switch transport {
	case TransportUDP:
		addr, err := net.ResolveUDPAddr("udp", serverAddr)
		if err != nil {
			return nil, status.Wrap(status.Transport, "turn.Dial", err)
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			return nil, status.Wrap(status.Transport, "turn.Dial", err)
		}
		s.udpConn = conn
	case TransportTCP:
		conn, err := net.Dial("tcp", serverAddr)
		if err != nil {
			return nil, status.Wrap(status.Transport, "turn.Dial", err)
		}
		s.conn = conn
		s.pool = NewDataConnPool(4, 16, serverAddr, log)
		session.SetConnectionAttemptHandler(s.handleConnectionAttempt)
	case TransportTLS:
		conn, err := tls.Dial("tcp", serverAddr, tlsCfg)
		if err != nil {
			return nil, status.Wrap(status.Transport, "turn.Dial", err)
		}
		s.conn = conn
		s.pool = NewDataConnPool(4, 16, serverAddr, log)
		session.SetConnectionAttemptHandler(s.handleConnectionAttempt)
	}

	go s.readLoop()
	return s, nil
}

// handleConnectionAttempt implements the peer-TCP relay side of RFC
// 6062 §4: on an incoming ConnectionAttempt indication, open a new
// data connection to the server and bind it to connID with
// ConnectionBind, sent on the new connection itself (not the control
// connection). Once bound the connection carries raw peer bytes with
// no further STUN/ChannelData framing.
func (s *Socket) handleConnectionAttempt(peer *net.UDPAddr, connID uint32) {
	if s.pool == nil {
		return
	}
	dc, err := s.pool.Accept(peer, connID)
	if err != nil {
		s.log.Warn("turn: rejecting peer data connection", logging.Err(err))
		return
	}
	dc.MarkBinding()

	req := NewMessage(ClassRequest, MethodConnectionBind, newTxID())
	req.AddAttr(AttrConnectionID, beBytes32(connID))
	s.session.mu.Lock()
	s.session.addAuthAttrs(req)
	s.session.mu.Unlock()

	if _, err := dc.conn.Write(req.Encode()); err != nil {
		s.log.Warn("turn: ConnectionBind send failed", logging.Err(err))
		s.pool.Remove(peer)
		return
	}

	buf := make([]byte, 1500)
	n, err := dc.conn.Read(buf)
	if err != nil {
		s.log.Warn("turn: ConnectionBind response read failed", logging.Err(err))
		s.pool.Remove(peer)
		return
	}
	resp, isSTUN, err := DecodeMessage(buf[:n])
	if err != nil || !isSTUN || resp.Class != ClassSuccess {
		s.log.Warn("turn: ConnectionBind rejected by server")
		s.pool.Remove(peer)
		return
	}

	dc.MarkReady()
	go s.dataConnReadLoop(dc, peer)
}

// dataConnReadLoop forwards the unframed byte stream of a bound peer
// data connection to the session's data callback, until the peer (or
// the connection) closes.
func (s *Socket) dataConnReadLoop(dc *DataConn, peer *net.UDPAddr) {
	buf := make([]byte, 64*1024)
	for {
		n, err := dc.conn.Read(buf)
		if n > 0 && s.session.cb.OnRxData != nil {
			s.session.cb.OnRxData(peer, append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			s.pool.Remove(peer)
			return
		}
	}
}

func (s *Socket) write(b []byte) error {
	if s.udpConn != nil {
		_, err := s.udpConn.Write(b)
		return err
	}
	_, err := s.conn.Write(b)
	return err
}

// SendSTUN transmits an already-encoded STUN message. It is the
// send func a Session is constructed with (see NewSession).
func (s *Socket) SendSTUN(msg *Message) error {
	return s.write(msg.Encode())
}

// SendData transmits payload to peer via the session's data path
// (channel or Send indication), padding ChannelData to 4 bytes when
// this socket's outbound transport is a stream (RFC 5766 §11.4).
func (s *Socket) SendData(peer *net.UDPAddr, payload []byte) error {
	encoded, err := s.session.SendTo(peer, payload, s.stream)
	if err != nil {
		return err
	}
	return s.write(encoded)
}

func (s *Socket) readLoop() {
	for {
		var n int
		var err error
		if s.udpConn != nil {
			n, err = s.udpConn.Read(s.readBuf)
		} else {
			n, err = s.conn.Read(s.readBuf)
		}
		if err != nil {
			s.onFatalError(err)
			return
		}
		s.handleInbound(append([]byte(nil), s.readBuf[:n]...))
	}
}

func (s *Socket) handleInbound(buf []byte) {
	msg, isSTUN, err := DecodeMessage(buf)
	if err != nil {
		s.log.Warn("turn: dropping malformed inbound datagram", logging.Err(err))
		return
	}
	if isSTUN {
		s.session.HandleSTUNMessage(msg)
		return
	}
	channel, payload, _, derr := DecodeChannelData(buf)
	if derr != nil {
		s.log.Warn("turn: dropping malformed channeldata frame", logging.Err(derr))
		return
	}
	peerStr, ok := s.session.channels.LookupByNumber(channel)
	if !ok {
		return
	}
	peer, rerr := net.ResolveUDPAddr("udp", peerStr)
	if rerr != nil || s.session.cb.OnRxData == nil {
		return
	}
	s.session.cb.OnRxData(peer, payload)
}

// onFatalError schedules destruction on the next heap tick rather
// than destroying inline, per spec.md §4.6, so any callback still
// unwinding on the current stack (e.g. a Session method that called
// into this socket) finishes first.
func (s *Socket) onFatalError(err error) {
	if s.closed.Swap(true) {
		return
	}
	s.log.Error("turn: socket read failed, destroying", logging.Err(err))
	s.heap.Schedule(0, func() {
		s.session.Destroy()
		if s.pool != nil {
			s.pool.CloseAll()
		}
	})
}

// Close tears the socket down explicitly (user-initiated, as opposed
// to the fatal-error path above).
func (s *Socket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.udpConn != nil {
		return s.udpConn.Close()
	}
	if s.pool != nil {
		s.pool.CloseAll()
	}
	return s.conn.Close()
}
